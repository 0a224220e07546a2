package messaging

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"runtime"
	"testing"

	"github.com/glimte/mmate-scopebus/contracts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Written func(w io.Writer, data string) error

func topLevelPing() {}

func writeData(w io.Writer, data string) error {
	_, err := io.WriteString(w, data)
	return err
}

func TestSubscriberIdentity(t *testing.T) {
	t.Run("Top level functions have a stable identity", func(t *testing.T) {
		a, ok := standaloneIdentity(Ping(topLevelPing))
		require.True(t, ok)
		b, _ := standaloneIdentity(Ping(topLevelPing))

		assert.Equal(t, a, b)
	})

	t.Run("Distinct closures have distinct identities", func(t *testing.T) {
		calls := 0
		makeHandler := func() Ping { return func() { calls++ } }

		a, _ := standaloneIdentity(makeHandler())
		b, _ := standaloneIdentity(makeHandler())

		assert.NotEqual(t, a, b)
	})

	t.Run("Method identity combines owner and method", func(t *testing.T) {
		x, y := newListener(), newListener()

		xArgs, ok := methodIdentity(x, (*listener).OnArguments)
		require.True(t, ok)
		xArgs2, _ := methodIdentity(x, (*listener).OnArguments)
		xPing, _ := methodIdentity(x, (*listener).OnPing)
		yArgs, _ := methodIdentity(y, (*listener).OnArguments)

		assert.Equal(t, xArgs, xArgs2)
		assert.NotEqual(t, xArgs, xPing)
		assert.NotEqual(t, xArgs, yArgs)
		runtime.KeepAlive(x)
		runtime.KeepAlive(y)
	})

	t.Run("Non function values have no identity", func(t *testing.T) {
		_, ok := funcID[any](topLevelPing)

		assert.False(t, ok)
	})
}

func TestSubscriberConstruction(t *testing.T) {
	written := contracts.MustOf[Written]()

	t.Run("Standalone subscriber always resolves", func(t *testing.T) {
		sub, err := newStandalone(written, Written(writeData))
		require.NoError(t, err)

		owner, alive := sub.resolve()
		assert.True(t, alive)
		assert.Nil(t, owner)
		_, err = uuid.Parse(sub.subID)
		assert.NoError(t, err)
	})

	t.Run("Method subscriber resolves to its owner", func(t *testing.T) {
		l := newListener()
		sub, err := newMethod(contracts.MustOf[Arguments](), l, (*listener).OnArguments)
		require.NoError(t, err)

		owner, alive := sub.resolve()
		assert.True(t, alive)
		assert.Same(t, l, owner)
		runtime.KeepAlive(l)
	})

	t.Run("Subscription IDs are unique", func(t *testing.T) {
		a, err := newStandalone(written, Written(writeData))
		require.NoError(t, err)
		b, err := newStandalone(written, Written(writeData))
		require.NoError(t, err)

		assert.NotEqual(t, a.subID, b.subID)
		assert.Equal(t, a.id, b.id)
	})
}

func TestInvoker(t *testing.T) {
	written := contracts.MustOf[Written]()

	t.Run("Interface arguments are passed through", func(t *testing.T) {
		inv := newInvoker(written, reflect.ValueOf(Written(writeData)), false)
		var buf bytes.Buffer

		err := inv(nil, []any{&buf, "hello"})

		assert.NoError(t, err)
		assert.Equal(t, "hello", buf.String())
	})

	t.Run("Returned errors are propagated", func(t *testing.T) {
		failure := errors.New("write failed")
		inv := newInvoker(written, reflect.ValueOf(Written(func(io.Writer, string) error { return failure })), false)

		err := inv(nil, []any{io.Discard, "x"})

		assert.Equal(t, failure, err)
	})

	t.Run("Mismatched arguments do not call the handler", func(t *testing.T) {
		called := false
		inv := newInvoker(written, reflect.ValueOf(Written(func(io.Writer, string) error {
			called = true
			return nil
		})), false)

		err := inv(nil, []any{"not a writer", "x"})

		assert.ErrorIs(t, err, contracts.ErrArgumentMismatch)
		assert.False(t, called)
	})

	t.Run("Bound invoker passes the owner first", func(t *testing.T) {
		l := newListener()
		inv := newInvoker(contracts.MustOf[Arguments](), reflect.ValueOf((*listener).OnArguments), true)

		err := inv(l, []any{1, 2})

		assert.NoError(t, err)
		assert.Equal(t, [][2]int{{1, 2}}, l.calls)
	})

	t.Run("Parameterless error handlers use the direct path", func(t *testing.T) {
		type Flush func() error
		failure := errors.New("flush failed")
		inv := newInvoker(contracts.MustOf[Flush](), reflect.ValueOf(Flush(func() error { return failure })), false)

		assert.Equal(t, failure, inv(nil, nil))
		assert.ErrorIs(t, inv(nil, []any{1}), contracts.ErrArgumentMismatch)
	})
}

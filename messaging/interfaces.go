package messaging

// MetricsCollector collects dispatcher metrics
type MetricsCollector interface {
	// RecordDispatch records a dispatch pass and the number of live subscribers it reached
	RecordDispatch(scope string, contract string, subscribers int)

	// RecordSubscription records a subscribe (+1) or unsubscribe (-1)
	RecordSubscription(scope string, contract string, delta int)

	// RecordReclaimed records subscribers removed because their owner was
	// collected. Reclaimed subscribers are not also reported to RecordSubscription.
	RecordReclaimed(scope string, contract string, count int)
}

// NoOpMetricsCollector is a no-op implementation of MetricsCollector
type NoOpMetricsCollector struct{}

// RecordDispatch does nothing
func (n *NoOpMetricsCollector) RecordDispatch(scope string, contract string, subscribers int) {}

// RecordSubscription does nothing
func (n *NoOpMetricsCollector) RecordSubscription(scope string, contract string, delta int) {}

// RecordReclaimed does nothing
func (n *NoOpMetricsCollector) RecordReclaimed(scope string, contract string, count int) {}

package metrics

type Counter interface {
	Inc()
}

// Metrics groups the saga counters. Components take *Metrics so tests can
// pass NewNoop().
type Metrics struct {
	SagasStarted     Counter
	SagasSucceeded   Counter
	SagasFailed      Counter
	Rollbacks        Counter
	RollbackFailures Counter
	OrdersPlaced     Counter
	OrdersRejected   Counter
	FillFallbacks    Counter
	CallersAbandoned Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		SagasStarted:     n,
		SagasSucceeded:   n,
		SagasFailed:      n,
		Rollbacks:        n,
		RollbackFailures: n,
		OrdersPlaced:     n,
		OrdersRejected:   n,
		FillFallbacks:    n,
		CallersAbandoned: n,
	}
}

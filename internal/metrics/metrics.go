package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	CyclesRun        Counter
	CycleErrors      Counter
	ActionsTriggered Counter
	TxBroadcast      Counter
	TxConfirmed      Counter
	TxRejected       Counter
	BidsSubmitted    Counter
	BidsConfirmed    Counter
	HedgeOrders      Counter
	HedgeDeviations  Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		CyclesRun:        n,
		CycleErrors:      n,
		ActionsTriggered: n,
		TxBroadcast:      n,
		TxConfirmed:      n,
		TxRejected:       n,
		BidsSubmitted:    n,
		BidsConfirmed:    n,
		HedgeOrders:      n,
		HedgeDeviations:  n,
	}
}

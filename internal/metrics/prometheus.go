package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "circuit_keeper"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		return c
	}

	cyclesRun := counter("cycles_run_total", "Total number of keeper cycles run.")
	cycleErrors := counter("cycle_errors_total", "Total number of keeper cycles that failed.")
	actionsTriggered := counter("actions_triggered_total", "Total number of protocol actions triggered.")
	txBroadcast := counter("tx_broadcast_total", "Total number of transactions broadcast.")
	txConfirmed := counter("tx_confirmed_total", "Total number of transactions confirmed.")
	txRejected := counter("tx_rejected_total", "Total number of transactions rejected by the ledger.")
	bidsSubmitted := counter("bids_submitted_total", "Total number of auction bids submitted.")
	bidsConfirmed := counter("bids_confirmed_total", "Total number of auction bids confirmed.")
	hedgeOrders := counter("hedge_orders_total", "Total number of hedge orders placed.")
	hedgeDeviations := counter("hedge_deviations_total", "Total number of cycles with hedge exposure out of tolerance.")

	m := &Metrics{
		CyclesRun:        promCounter{cyclesRun},
		CycleErrors:      promCounter{cycleErrors},
		ActionsTriggered: promCounter{actionsTriggered},
		TxBroadcast:      promCounter{txBroadcast},
		TxConfirmed:      promCounter{txConfirmed},
		TxRejected:       promCounter{txRejected},
		BidsSubmitted:    promCounter{bidsSubmitted},
		BidsConfirmed:    promCounter{bidsConfirmed},
		HedgeOrders:      promCounter{hedgeOrders},
		HedgeDeviations:  promCounter{hedgeDeviations},
	}

	return &Prometheus{
		Metrics:  m,
		registry: registry,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

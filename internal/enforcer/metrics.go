package enforcer

import "github.com/prometheus/client_golang/prometheus"

var (
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bosun_authz_decisions_total",
			Help: "Authorization decisions by result and the scope that decided them.",
		},
		[]string{"result", "scope"},
	)
	mutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bosun_authz_mutations_total",
			Help: "Policy and assignment mutations by operation and outcome.",
		},
		[]string{"op", "result"},
	)
	tuplesGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bosun_authz_tuples",
			Help: "Tuples in the live snapshot.",
		},
		[]string{"kind"},
	)
	reloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bosun_authz_reloads_total",
			Help: "Snapshot reloads by outcome.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(decisionsTotal, mutationsTotal, tuplesGauge, reloadsTotal)
}

func observeSnapshot(s Snapshot) {
	tuplesGauge.WithLabelValues("policy").Set(float64(len(s.Policies)))
	tuplesGauge.WithLabelValues("assignment").Set(float64(len(s.Assignments)))
}

package notify

import "github.com/prometheus/client_golang/prometheus"

var sentTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Outbound notifications by channel and outcome.",
	},
	[]string{"channel", "outcome"},
)

func init() {
	prometheus.MustRegister(sentTotal)
}

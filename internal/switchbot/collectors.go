package switchbot

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeOK             = "ok"
	outcomeVendorError    = "vendor_error"
	outcomeHTTPError      = "http_error"
	outcomeTransportError = "transport_error"
	outcomeDecodeError    = "decode_error"
)

// Prometheus collectors for API traffic, cache effectiveness and retries.
var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchbot_requests_total",
			Help: "SwitchBot API requests by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)
	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchbot_cache_lookups_total",
			Help: "Device id cache lookups by result.",
		},
		[]string{"result"},
	)
	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchbot_retries_total",
			Help: "Retried device operations by device name.",
		},
		[]string{"device"},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal)
	prometheus.MustRegister(cacheLookupsTotal)
	prometheus.MustRegister(retriesTotal)
}

func observeRequest(endpoint, outcome string) {
	requestsTotal.WithLabelValues(endpoint, outcome).Inc()
}

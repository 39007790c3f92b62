package drm

import "github.com/prometheus/client_golang/prometheus"

var (
	decryptCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drm_decrypt_calls_total",
		Help: "Total decrypt calls forwarded to the plugin service.",
	}, []string{"mode"})

	decryptBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "drm_decrypt_bytes_total",
		Help: "Total plaintext bytes written by decrypt calls.",
	})

	remoteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "drm_remote_failures_total",
		Help: "Total calls that failed at the transport envelope.",
	})
)

func init() {
	prometheus.MustRegister(decryptCalls, decryptBytes, remoteFailures)
}

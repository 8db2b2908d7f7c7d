package bridge

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ethan/iotc-bridge/pkg/logger"
)

var (
	framesForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_frames_forwarded_total",
		Help: "Video frames written to the transcoder sink.",
	}, []string{"camera"})

	connectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_connect_attempts_total",
		Help: "Session connect attempts per camera.",
	}, []string{"camera"})

	streamState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bridge_stream_state",
		Help: "Stream state code (-90 offline, 0 disabled, 1 stopped, 2 connecting, 3 connected).",
	}, []string{"camera"})

	commandsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_commands_total",
		Help: "Control commands dispatched to cameras.",
	}, []string{"camera", "status"})
)

// ServeMetrics exposes the Prometheus registry on the given port. It
// blocks, so run it in its own goroutine.
func ServeMetrics(port string, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info("metrics listening", "port", port)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		log.Error("metrics server failed", "error", err)
	}
}

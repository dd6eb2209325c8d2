// Package metrics provides Prometheus metrics for the cloud storage servers.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CommandUnknown labels every command name the browse server does not understand
const CommandUnknown = "unknown"

var (
	// Browse metrics
	browseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloudstorage_browse_connections_active",
			Help: "Number of open browse connections",
		},
	)

	browseCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudstorage_browse_commands_total",
			Help: "Total browse commands dispatched",
		},
		[]string{"command"},
	)

	// Transfer metrics
	transferConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloudstorage_transfer_connections_active",
			Help: "Number of open transfer connections",
		},
	)

	transferBytesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cloudstorage_transfer_bytes_received_total",
			Help: "Total bytes written to stored files",
		},
	)

	transferFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudstorage_transfer_files_total",
			Help: "Total uploaded files",
		},
		[]string{"status"},
	)

	transferFileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cloudstorage_transfer_file_duration_seconds",
			Help:    "Time to receive one file",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// BrowseConnected records an accepted browse connection.
func BrowseConnected() {
	browseConnectionsActive.Inc()
}

// BrowseDisconnected records a closed browse connection.
func BrowseDisconnected() {
	browseConnectionsActive.Dec()
}

// RecordCommand records a dispatched browse command.
// Callers pass CommandUnknown for names outside the command set so the label stays bounded.
func RecordCommand(name string) {
	browseCommandsTotal.WithLabelValues(name).Inc()
}

// TransferConnected records an accepted transfer connection.
func TransferConnected() {
	transferConnectionsActive.Inc()
}

// TransferDisconnected records a closed transfer connection.
func TransferDisconnected() {
	transferConnectionsActive.Dec()
}

// RecordUpload records one received file.
func RecordUpload(bytes int64, success bool, duration time.Duration) {
	transferBytesReceived.Add(float64(bytes))
	status := "stored"
	if !success {
		status = "failed"
	}
	transferFilesTotal.WithLabelValues(status).Inc()
	transferFileDuration.Observe(duration.Seconds())
}

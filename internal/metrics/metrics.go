// Package metrics defines the sensor's Prometheus counters and gauges,
// grounded in types/vrrpv2.go's prometheus.NewCounterVec/Inc pattern
// (there: one CounterVec per audit-record type, incremented on
// delivery). Here the same shape tracks host-level capture/dispatch
// counters and per-analyzer record counts instead of per-protocol
// audit-record fields.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// PacketsCaptured counts packets successfully read from the capture handle.
	PacketsCaptured = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netsensor_packets_captured_total",
		Help: "Number of packets read from the capture interface.",
	})

	// PacketsDropped counts packets dropped at packet-view initialization.
	PacketsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netsensor_packets_dropped_total",
		Help: "Number of packets dropped because a header exceeded the captured length.",
	})

	// AnalyzerInvocations counts processPacket calls, labeled by analyzer name.
	AnalyzerInvocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netsensor_analyzer_invocations_total",
		Help: "Number of times an analyzer's processPacket was invoked.",
	}, []string{"analyzer"})

	// SlabExhausted counts the capacity-warning condition, labeled by analyzer.
	SlabExhausted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netsensor_slab_exhausted_total",
		Help: "Number of times an analyzer's slab pool was full on allocate.",
	}, []string{"analyzer"})

	// RecordsWritten counts records persisted to the record store, labeled by analyzer.
	RecordsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netsensor_records_written_total",
		Help: "Number of records written to the per-hour record store.",
	}, []string{"analyzer"})

	// AlertsSent counts SMTP alerts sent, labeled by analyzer.
	AlertsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netsensor_alerts_sent_total",
		Help: "Number of alert emails sent.",
	}, []string{"analyzer"})

	// OpenHourBuckets is a gauge of currently open record-store file handles, labeled by analyzer.
	OpenHourBuckets = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netsensor_open_hour_buckets",
		Help: "Number of currently open per-hour record store file handles.",
	}, []string{"analyzer"})
)

// MustRegister registers every metric above with reg. Called once at
// startup from cmd/sensor.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		PacketsCaptured,
		PacketsDropped,
		AnalyzerInvocations,
		SlabExhausted,
		RecordsWritten,
		AlertsSent,
		OpenHourBuckets,
	)
}

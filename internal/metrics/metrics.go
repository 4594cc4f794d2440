package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Intake metrics
	intakeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geyserpipe_intake_events_total",
			Help: "Total number of notifications accepted by the intake",
		},
		[]string{"kind"},
	)

	intakeRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geyserpipe_intake_enqueue_retries_total",
			Help: "Total number of bounded retries on a full handoff channel",
		},
	)

	intakeOverloads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geyserpipe_intake_overloads_total",
			Help: "Total number of fatal overload conditions signalled to the host",
		},
	)

	// Staging metrics
	TrackedSlots = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geyserpipe_staging_tracked_slots",
			Help: "Number of slot records currently held in the staging buffer",
		},
	)

	HighestRootedSlot = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geyserpipe_staging_highest_rooted_slot",
			Help: "The highest slot number known to be rooted",
		},
	)

	slotsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geyserpipe_staging_slots_resolved_total",
			Help: "Total number of slots resolved by outcome",
		},
		[]string{"outcome"},
	)

	updatesCommitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geyserpipe_staging_updates_committed_total",
			Help: "Total number of account updates promoted to committed form",
		},
	)

	updatesSuperseded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geyserpipe_staging_updates_superseded_total",
			Help: "Total number of promoted updates skipped as stale against the committed watermark",
		},
	)

	evictionDataLoss = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geyserpipe_staging_eviction_data_loss_total",
			Help: "Total number of unresolved slot records evicted by the retention window",
		},
	)

	// Store metrics
	storeWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geyserpipe_store_writes_total",
			Help: "Total number of account rows written by outcome",
		},
		[]string{"outcome"},
	)

	storeBatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geyserpipe_store_batch_duration_seconds",
			Help:    "Duration of commit sink write batches",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"driver"},
	)

	storeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geyserpipe_store_errors_total",
			Help: "Total number of store errors by type",
		},
		[]string{"error_type"},
	)

	storeRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geyserpipe_store_retries_total",
			Help: "Total number of write batch retries",
		},
	)

	// Broadcast metrics
	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geyserpipe_broadcast_subscribers",
			Help: "Number of currently registered subscribers",
		},
	)

	broadcastDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geyserpipe_broadcast_delivered_total",
			Help: "Total number of updates enqueued to subscriber queues",
		},
	)

	broadcastDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geyserpipe_broadcast_dropped_total",
			Help: "Total number of updates dropped from saturated subscriber queues",
		},
	)

	broadcastDisconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geyserpipe_broadcast_forced_disconnects_total",
			Help: "Total number of subscribers forcibly disconnected for sustained backpressure",
		},
	)

	// System metrics
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geyserpipe_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geyserpipe_errors_total",
			Help: "Total number of errors by component and severity",
		},
		[]string{"component", "severity"},
	)

	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "geyserpipe_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geyserpipe_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "geyserpipe_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func IntakeEventInc(kind string) {
	intakeEvents.WithLabelValues(kind).Inc()
}

func IntakeRetryInc() {
	intakeRetries.Inc()
}

func IntakeOverloadInc() {
	intakeOverloads.Inc()
}

func SlotResolvedInc(outcome string) {
	slotsResolved.WithLabelValues(outcome).Inc()
}

func UpdatesCommittedAdd(count int) {
	updatesCommitted.Add(float64(count))
}

func UpdatesSupersededInc() {
	updatesSuperseded.Inc()
}

func EvictionDataLossInc() {
	evictionDataLoss.Inc()
}

func StoreWriteInc(outcome string, count int) {
	storeWrites.WithLabelValues(outcome).Add(float64(count))
}

func StoreBatchDuration(driver string, duration time.Duration) {
	storeBatchDuration.WithLabelValues(driver).Observe(duration.Seconds())
}

func StoreErrorInc(errorType string) {
	storeErrors.WithLabelValues(errorType).Inc()
}

func StoreRetryInc() {
	storeRetries.Inc()
}

func BroadcastDeliveredAdd(count int) {
	broadcastDelivered.Add(float64(count))
}

func BroadcastDroppedInc() {
	broadcastDropped.Inc()
}

func BroadcastDisconnectInc() {
	broadcastDisconnects.Inc()
}

func ComponentHealthSet(component string, healthy bool) {
	boolAsFloat := float64(1)
	if !healthy {
		boolAsFloat = 0
	}

	ComponentHealth.WithLabelValues(component).Set(boolAsFloat)
}

// UpdateSystemMetrics updates runtime system metrics.
// This should be called periodically (e.g., every 15 seconds).
func UpdateSystemMetrics() {
	// Update uptime
	Uptime.Set(time.Since(startTime).Seconds())

	// Update goroutine count
	Goroutines.Set(float64(runtime.NumGoroutine()))

	// Update memory statistics
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}

// Package metrics provides Prometheus metrics for the capture pipeline.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camgraph",
		Subsystem: "capture",
		Name:      "frames_total",
		Help:      "Frames delivered to callers",
	}, []string{"camera", "slot"})

	emptyDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camgraph",
		Subsystem: "capture",
		Name:      "empty_buffers_discarded_total",
		Help:      "Zero-length completions released without reaching the caller",
	}, []string{"camera", "slot"})

	autoReleased = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camgraph",
		Subsystem: "capture",
		Name:      "auto_released_total",
		Help:      "Held frames released by the next capture because the caller never resolved them",
	}, []string{"camera", "slot"})

	handoffs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camgraph",
		Subsystem: "capture",
		Name:      "handoffs_total",
		Help:      "Frames handed to the render sink",
	}, []string{"camera", "slot"})

	releases = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camgraph",
		Subsystem: "capture",
		Name:      "releases_total",
		Help:      "Frames released back to the pool by the caller",
	}, []string{"camera", "slot"})

	captureErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camgraph",
		Subsystem: "capture",
		Name:      "errors_total",
		Help:      "Failed capture calls by error code",
	}, []string{"camera", "slot", "code"})

	seededBuffers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camgraph",
		Subsystem: "pipeline",
		Name:      "seeded_buffers_total",
		Help:      "Empty buffers submitted to producing ports while seeding pools",
	}, []string{"camera", "slot"})

	buildDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "camgraph",
		Subsystem: "pipeline",
		Name:      "build_duration_seconds",
		Help:      "Time taken to build and enable a camera's graph",
	}, []string{"camera"})

	// Local cache for the status API.
	slotCache   = make(map[slotKey]*SlotMetrics)
	slotCacheMu sync.RWMutex
)

type slotKey struct {
	camera int
	slot   int
}

// SlotMetrics holds current counter values for one output slot.
type SlotMetrics struct {
	Captured     uint64    `json:"captured"`
	Empty        uint64    `json:"empty_discarded"`
	AutoReleased uint64    `json:"auto_released"`
	Handoffs     uint64    `json:"handoffs"`
	Releases     uint64    `json:"releases"`
	Errors       uint64    `json:"errors"`
	LastCapture  time.Time `json:"last_capture"`
}

func labels(camera, slot int) []string {
	return []string{strconv.Itoa(camera), strconv.Itoa(slot)}
}

// RecordCapture counts a frame delivered to a caller.
func RecordCapture(camera, slot int) {
	framesCaptured.WithLabelValues(labels(camera, slot)...).Inc()
	now := time.Now()
	updateCache(camera, slot, func(m *SlotMetrics) {
		m.Captured++
		m.LastCapture = now
	})
}

// RecordEmptyDiscard counts a zero-length completion that was dropped.
func RecordEmptyDiscard(camera, slot int) {
	emptyDiscarded.WithLabelValues(labels(camera, slot)...).Inc()
	updateCache(camera, slot, func(m *SlotMetrics) { m.Empty++ })
}

// RecordAutoRelease counts a held frame released by the next capture.
func RecordAutoRelease(camera, slot int) {
	autoReleased.WithLabelValues(labels(camera, slot)...).Inc()
	updateCache(camera, slot, func(m *SlotMetrics) { m.AutoReleased++ })
}

// RecordHandoff counts a frame handed to the sink.
func RecordHandoff(camera, slot int) {
	handoffs.WithLabelValues(labels(camera, slot)...).Inc()
	updateCache(camera, slot, func(m *SlotMetrics) { m.Handoffs++ })
}

// RecordRelease counts a frame released by the caller.
func RecordRelease(camera, slot int) {
	releases.WithLabelValues(labels(camera, slot)...).Inc()
	updateCache(camera, slot, func(m *SlotMetrics) { m.Releases++ })
}

// RecordCaptureError counts a failed capture call.
func RecordCaptureError(camera, slot int, code string) {
	captureErrors.WithLabelValues(strconv.Itoa(camera), strconv.Itoa(slot), code).Inc()
	updateCache(camera, slot, func(m *SlotMetrics) { m.Errors++ })
}

// RecordSeeded counts buffers submitted while seeding a pool.
func RecordSeeded(camera, slot, n int) {
	seededBuffers.WithLabelValues(labels(camera, slot)...).Add(float64(n))
}

// ObserveBuild records how long a camera's build took.
func ObserveBuild(camera int, d time.Duration) {
	buildDuration.WithLabelValues(strconv.Itoa(camera)).Set(d.Seconds())
}

// DeleteSlotMetrics removes all metrics for a slot.
func DeleteSlotMetrics(camera, slot int) {
	l := labels(camera, slot)
	framesCaptured.DeleteLabelValues(l...)
	emptyDiscarded.DeleteLabelValues(l...)
	autoReleased.DeleteLabelValues(l...)
	handoffs.DeleteLabelValues(l...)
	releases.DeleteLabelValues(l...)
	seededBuffers.DeleteLabelValues(l...)
	captureErrors.DeletePartialMatch(prometheus.Labels{"camera": l[0], "slot": l[1]})
	DeletePoolLevels(camera, slot)

	slotCacheMu.Lock()
	delete(slotCache, slotKey{camera, slot})
	slotCacheMu.Unlock()
}

// GetSlotMetrics returns current counter values for a slot.
func GetSlotMetrics(camera, slot int) *SlotMetrics {
	slotCacheMu.RLock()
	defer slotCacheMu.RUnlock()
	if m, ok := slotCache[slotKey{camera, slot}]; ok {
		dup := *m
		return &dup
	}
	return nil
}

func updateCache(camera, slot int, update func(*SlotMetrics)) {
	slotCacheMu.Lock()
	defer slotCacheMu.Unlock()
	key := slotKey{camera, slot}
	m, ok := slotCache[key]
	if !ok {
		m = &SlotMetrics{}
		slotCache[key] = m
	}
	update(m)
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	poolFree = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "camgraph",
		Subsystem: "pool",
		Name:      "free_buffers",
		Help:      "Empty buffers waiting in the sink connection pool",
	}, []string{"camera", "slot"})

	poolQueued = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "camgraph",
		Subsystem: "pool",
		Name:      "queued_buffers",
		Help:      "Filled buffers waiting in the sink connection delivery queue",
	}, []string{"camera", "slot"})
)

// SetPoolLevels sets the pool occupancy of a slot's sink connection.
func SetPoolLevels(camera, slot, free, queued int) {
	l := labels(camera, slot)
	poolFree.WithLabelValues(l...).Set(float64(free))
	poolQueued.WithLabelValues(l...).Set(float64(queued))
}

// DeletePoolLevels removes the pool gauges of a slot.
func DeletePoolLevels(camera, slot int) {
	l := labels(camera, slot)
	poolFree.DeleteLabelValues(l...)
	poolQueued.DeleteLabelValues(l...)
}

// Package collectors samples pipeline state into Prometheus gauges.
package collectors

import (
	"context"
	"time"

	"github.com/smazurov/camgraph/internal/logging"
	"github.com/smazurov/camgraph/internal/metrics"
)

// PoolLevel is the occupancy of one slot's sink connection.
type PoolLevel struct {
	Camera int
	Slot   int
	Free   int
	Queued int
}

// PoolSampler reports the current pool levels of every built slot.
type PoolSampler interface {
	PoolLevels() []PoolLevel
}

// PoolCollector periodically copies pool levels into gauges.
type PoolCollector struct {
	logger   logging.Logger
	sampler  PoolSampler
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	seen     map[[2]int]bool
}

// NewPoolCollector creates a new pool collector.
func NewPoolCollector(sampler PoolSampler, interval time.Duration) *PoolCollector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &PoolCollector{
		logger:   logging.GetLogger("metrics"),
		sampler:  sampler,
		interval: interval,
		seen:     make(map[[2]int]bool),
	}
}

// Start begins collecting pool levels.
func (p *PoolCollector) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.run()
	return nil
}

// Stop stops the collector and waits for it to exit.
func (p *PoolCollector) Stop() error {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
	return nil
}

func (p *PoolCollector) run() {
	defer close(p.done)
	p.logger.Info("Starting pool level collection", "interval", p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collect()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.collect()
		}
	}
}

func (p *PoolCollector) collect() {
	levels := p.sampler.PoolLevels()
	current := make(map[[2]int]bool, len(levels))
	for _, l := range levels {
		metrics.SetPoolLevels(l.Camera, l.Slot, l.Free, l.Queued)
		current[[2]int{l.Camera, l.Slot}] = true
	}
	// Slots that disappeared after a rebuild.
	for key := range p.seen {
		if !current[key] {
			metrics.DeletePoolLevels(key[0], key[1])
		}
	}
	p.seen = current
}

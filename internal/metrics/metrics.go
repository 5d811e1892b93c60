// Package metrics provides in-process latency measurement around named
// operations. A Collector is injected into components that want timing
// (broadcast fanout, order placement); components treat it as optional.
package metrics

import (
	"log/slog"
	"sync"
	"time"
)

// LatencyStats summarizes recorded measurements for one operation.
type LatencyStats struct {
	Count int
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// operation holds the in-flight start time and completed samples.
type operation struct {
	startedAt time.Time
	inFlight  bool
	samples   []time.Duration
}

// Collector records start/end pairs for named operations.
// All methods are safe for concurrent use.
type Collector struct {
	logger *slog.Logger

	mu  sync.Mutex
	ops map[string]*operation
}

// NewCollector creates a latency collector.
func NewCollector(logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		logger: logger,
		ops:    make(map[string]*operation),
	}
}

// Start marks the beginning of a measurement for opID.
func (c *Collector) Start(opID string) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	op, ok := c.ops[opID]
	if !ok {
		op = &operation{}
		c.ops[opID] = op
	}
	op.startedAt = now
	op.inFlight = true
}

// End completes the measurement for opID and records the elapsed time.
// Ending an operation that was never started is logged and ignored.
func (c *Collector) End(opID string) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	op, ok := c.ops[opID]
	if !ok || !op.inFlight {
		c.logger.Warn("measurement ended without start", "operation", opID)
		return
	}
	op.inFlight = false
	op.samples = append(op.samples, now.Sub(op.startedAt))
}

// Stats returns aggregate latency statistics for opID. A zero-value
// LatencyStats is returned for unknown operations.
func (c *Collector) Stats(opID string) LatencyStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	op, ok := c.ops[opID]
	if !ok || len(op.samples) == 0 {
		return LatencyStats{}
	}

	stats := LatencyStats{
		Count: len(op.samples),
		Min:   op.samples[0],
		Max:   op.samples[0],
	}

	var total time.Duration
	for _, d := range op.samples {
		if d < stats.Min {
			stats.Min = d
		}
		if d > stats.Max {
			stats.Max = d
		}
		total += d
	}
	stats.Avg = total / time.Duration(len(op.samples))

	return stats
}

// Reset discards recorded samples for opID.
func (c *Collector) Reset(opID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if op, ok := c.ops[opID]; ok {
		op.samples = nil
	}
}

// Operations returns the IDs of all operations with at least one sample.
func (c *Collector) Operations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.ops))
	for id, op := range c.ops {
		if len(op.samples) > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// LogAll writes a summary of every measured operation to the logger.
func (c *Collector) LogAll() {
	for _, id := range c.Operations() {
		stats := c.Stats(id)
		c.logger.Info("operation latency",
			"operation", id,
			"count", stats.Count,
			"min", stats.Min,
			"max", stats.Max,
			"avg", stats.Avg,
		)
	}
}

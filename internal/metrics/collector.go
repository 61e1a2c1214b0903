// Package metrics provides in-memory runtime statistics collection.
// Recording never fails and never blocks the caller's logic; a nil
// *Collector discards everything.
package metrics

import (
	"math"
	"sync"
	"time"
)

// Operation names recorded by the engine.
const (
	OpLLMExtract  = "llm_extract"
	OpLLMSnapshot = "llm_snapshot"
	OpRetrieval   = "retrieval_query"
	OpEventInsert = "event_insert"
	OpDecay       = "decay_pass"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count       int64
	TotalTime   time.Duration
	MinTime     time.Duration
	MaxTime     time.Duration
	TotalTokens int64 // LLM operations only
	Items       int64 // operation volume: events inserted, rows decayed, results returned
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`
	TotalTokens int64   `json:"total_tokens,omitempty"`
	Items       int64   `json:"items,omitempty"`
}

// Snapshot is the full picture at a point in time.
type Snapshot struct {
	UptimeSeconds float64                      `json:"uptime_seconds"`
	Operations    map[string]OperationSnapshot `json:"operations"`
}

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// Record records one timed occurrence of an operation.
func (c *Collector) Record(op string, duration time.Duration) {
	c.RecordItems(op, duration, 0)
}

// RecordLLM records an LLM call with its token usage.
func (c *Collector) RecordLLM(op string, duration time.Duration, tokens int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.record(op, duration)
	m.TotalTokens += int64(tokens)
}

// RecordItems records a timed operation with its volume (rows, events, results).
func (c *Collector) RecordItems(op string, duration time.Duration, items int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.record(op, duration)
	m.Items += int64(items)
}

func (c *Collector) record(op string, duration time.Duration) *OperationMetrics {
	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration
	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
	return m
}

// Snapshot returns a point-in-time view of all recorded operations.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{Operations: map[string]OperationSnapshot{}}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Operations:    make(map[string]OperationSnapshot, len(c.ops)),
	}
	for op, m := range c.ops {
		if m.Count == 0 {
			continue
		}
		snap.Operations[op] = OperationSnapshot{
			Count:       m.Count,
			TotalTimeMs: m.TotalTime.Milliseconds(),
			AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
			MinTimeMs:   m.MinTime.Milliseconds(),
			MaxTimeMs:   m.MaxTime.Milliseconds(),
			TotalTokens: m.TotalTokens,
			Items:       m.Items,
		}
	}
	return snap
}

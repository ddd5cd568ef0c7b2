package core

import (
	"context"
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var expvarSeq atomic.Uint64

// OperationCounters aggregates the outcomes of one service operation.
type OperationCounters struct {
	Calls        int64     `json:"calls"`
	Failures     int64     `json:"failures"`
	TotalMS      float64   `json:"total_ms"`
	SlowestMS    float64   `json:"slowest_ms"`
	LastFailedAt time.Time `json:"last_failed_at,omitzero"`
}

// ExpvarMetricsRecorder publishes per-operation counters under /debug/vars.
type ExpvarMetricsRecorder struct {
	name string
	now  func() time.Time
	mu   sync.Mutex
	ops  map[string]OperationCounters
}

// NewExpvarMetricsRecorder publishes a recorder under name, or under a unique
// santa_operations_<n> name when name is empty. expvar names are process-wide,
// so reusing a name panics.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = fmt.Sprintf("santa_operations_%d", expvarSeq.Add(1))
	}
	rec := &ExpvarMetricsRecorder{
		name: name,
		now:  func() time.Time { return time.Now().UTC() },
		ops:  make(map[string]OperationCounters),
	}
	expvar.Publish(name, expvar.Func(func() any { return rec.Snapshot() }))
	return rec
}

// Name is the expvar key the counters are published under.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Snapshot copies the current counters keyed by operation.
func (r *ExpvarMetricsRecorder) Snapshot() map[string]OperationCounters {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]OperationCounters, len(r.ops))
	for op, c := range r.ops {
		out[op] = c
	}
	return out
}

// Observe implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	ms := float64(duration) / float64(time.Millisecond)
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.ops[operation]
	c.Calls++
	c.TotalMS += ms
	if ms > c.SlowestMS {
		c.SlowestMS = ms
	}
	if !success {
		c.Failures++
		c.LastFailedAt = r.now()
	}
	r.ops[operation] = c
}

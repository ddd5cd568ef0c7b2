package core

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"
)

// Trace outcomes, matching the log levels the service uses for each class.
const (
	TraceOK       = "ok"
	TraceRejected = "rejected"
	TraceBlocked  = "blocked"
	TraceFailed   = "failed"
)

// TraceRecord is one finished operation as written by TraceLog.
type TraceRecord struct {
	Operation  string    `json:"op"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS float64   `json:"duration_ms"`
}

// TraceLog appends one JSON line per operation to w. It is enabled with
// SANTA_TRACE_FILE for offline inspection of admin sessions.
type TraceLog struct {
	mu  sync.Mutex
	enc *json.Encoder
	now func() time.Time
	err error
}

// NewTraceLog writes records to w.
func NewTraceLog(w io.Writer) *TraceLog {
	return &TraceLog{enc: json.NewEncoder(w), now: func() time.Time { return time.Now().UTC() }}
}

// Err returns the first write failure, if any. Later records are dropped.
func (l *TraceLog) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Start implements Tracer.
func (l *TraceLog) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &traceLogSpan{log: l, op: operation, started: l.now()}
}

type traceLogSpan struct {
	log     *TraceLog
	op      string
	started time.Time
}

func (s *traceLogSpan) End(err error) {
	rec := TraceRecord{
		Operation:  s.op,
		Outcome:    traceOutcome(err),
		StartedAt:  s.started,
		DurationMS: float64(s.log.now().Sub(s.started)) / float64(time.Millisecond),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	if s.log.err != nil {
		return
	}
	s.log.err = s.log.enc.Encode(rec)
}

func traceOutcome(err error) string {
	var blocked RuleViolationError
	switch {
	case err == nil:
		return TraceOK
	case errors.As(err, &blocked):
		return TraceBlocked
	case isExpected(err):
		return TraceRejected
	default:
		return TraceFailed
	}
}

type multiTracer []Tracer

// NewMultiTracer starts a span on every tracer; nil entries are skipped. The
// context returned by the first tracer is handed to the next.
func NewMultiTracer(tracers ...Tracer) Tracer {
	out := make(multiTracer, 0, len(tracers))
	for _, t := range tracers {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

func (m multiTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	spans := make(multiSpan, 0, len(m))
	for _, t := range m {
		var span TraceSpan
		ctx, span = t.Start(ctx, operation)
		spans = append(spans, span)
	}
	return ctx, spans
}

type multiSpan []TraceSpan

func (m multiSpan) End(err error) {
	for i := len(m) - 1; i >= 0; i-- {
		m[i].End(err)
	}
}

// Package notify delivers participant-facing messages. Delivery always runs
// outside the event guard so one slow recipient never stalls other commands.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Kind classifies a notification.
type Kind string

// Notification kinds.
const (
	KindAssignment Kind = "assignment"
	KindQuestion   Kind = "question"
	KindReply      Kind = "reply"
	KindRemoved    Kind = "removed"
)

// Message is addressed to a participant by their opaque identifier.
type Message struct {
	RecipientID string
	Kind        Kind
	Text        string
}

// Notifier delivers a single message.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, msg Message) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Logger is the logging surface used by LogNotifier.
type Logger interface {
	Info(msg string, keysAndValues ...any)
}

// LogNotifier records messages through a logger instead of delivering them.
type LogNotifier struct {
	logger Logger
}

// NewLogNotifier constructs a LogNotifier. A nil logger discards messages.
func NewLogNotifier(logger Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.logger != nil {
		n.logger.Info("notification", "recipient", msg.RecipientID, "kind", string(msg.Kind), "text", msg.Text)
	}
	return nil
}

// DeliveryError lists the recipients whose messages could not be delivered.
type DeliveryError struct {
	Failures map[string]error
}

func (e *DeliveryError) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for id := range e.Failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return fmt.Sprintf("delivery failed for %s", strings.Join(ids, ", "))
}

// Unwrap exposes the individual failures to errors.Is/As.
func (e *DeliveryError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, err := range e.Failures {
		out = append(out, err)
	}
	return out
}

// Dispatcher fans messages out with bounded parallelism. A failure for one
// recipient does not cancel the others.
type Dispatcher struct {
	notifier Notifier
	limit    int
}

// NewDispatcher constructs a dispatcher; limit <= 0 means 4 concurrent sends.
func NewDispatcher(notifier Notifier, limit int) *Dispatcher {
	if limit <= 0 {
		limit = 4
	}
	return &Dispatcher{notifier: notifier, limit: limit}
}

// Send delivers every message and returns a *DeliveryError naming the
// recipients that failed, or nil.
func (d *Dispatcher) Send(ctx context.Context, msgs []Message) error {
	if d == nil || d.notifier == nil || len(msgs) == 0 {
		return nil
	}
	var (
		mu       sync.Mutex
		failures map[string]error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.limit)
	for _, msg := range msgs {
		g.Go(func() error {
			if err := d.notifier.Notify(gctx, msg); err != nil {
				mu.Lock()
				if failures == nil {
					failures = make(map[string]error)
				}
				failures[msg.RecipientID] = errors.Join(failures[msg.RecipientID], err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if len(failures) > 0 {
		return &DeliveryError{Failures: failures}
	}
	return nil
}

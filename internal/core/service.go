package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"secretsanta/internal/archive"
	"secretsanta/internal/assignment"
	"secretsanta/internal/blob"
	"secretsanta/internal/history"
	"secretsanta/internal/infra/persistence/memory"
	"secretsanta/internal/notify"
	"secretsanta/pkg/domain"
)

// Input limits applied to free text supplied by participants.
const (
	maxMessageLen  = 500
	maxItemLen     = 200
	maxWishlistLen = 10
)

// Service exposes the event operations. Every mutation runs inside the
// store's transaction guard; notifications are sent after the commit.
type Service struct {
	store    PersistentStore
	archive  *archive.Manager
	history  *history.Loader
	engine   *assignment.Engine
	dispatch *notify.Dispatcher
	lookback int
	opts     serviceOptions

	clock   Clock
	logger  Logger
	audit   AuditRecorder
	metrics MetricsRecorder
	tracer  Tracer
}

// NewService constructs a service over an existing guarded store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return newService(store, o)
}

// NewInMemoryService creates a service with a non-durable store using engine
// (the default rules when nil).
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	store := memory.NewStore(engine, memory.WithClock(o.clock.Now))
	return newService(store, o)
}

func newService(store PersistentStore, o serviceOptions) *Service {
	if o.archive == nil {
		o.archive = archive.NewManager(blob.NewMemory(), archive.WithClock(o.clock.Now))
	}
	if o.engine == nil {
		o.engine = assignment.NewEngine()
	}
	s := &Service{
		store:    store,
		archive:  o.archive,
		history:  history.NewLoader(o.archive),
		engine:   o.engine,
		lookback: o.lookback,
		opts:     o,
		clock:    o.clock,
		logger:   o.logger,
		audit:    o.audit,
		metrics:  o.metrics,
		tracer:   o.tracer,
	}
	if o.notifier != nil {
		s.dispatch = notify.NewDispatcher(o.notifier, o.notifyConcurrency)
	}
	return s
}

// Store returns the guarded store.
func (s *Service) Store() PersistentStore { return s.store }

// Archive returns the archive manager.
func (s *Service) Archive() *archive.Manager { return s.archive }

// Current returns the last committed event without waiting for in-flight
// mutations.
func (s *Service) Current() Event {
	return s.store.Current()
}

// Participants lists the current participants ordered by collated label.
func (s *Service) Participants() []Participant {
	ev := s.store.Current()
	out := make([]Participant, 0, len(ev.Participants))
	for id, label := range ev.Participants {
		out = append(out, Participant{ID: id, Label: label})
	}
	sortParticipants(s.opts.locale, out)
	return out
}

// BackupState copies the committed event to the backup tier.
func (s *Service) BackupState(ctx context.Context) error {
	_, err := s.run(ctx, "backup_state", s.store.Current().ID, func(ctx context.Context) (Result, error) {
		return Result{}, s.store.Backup(ctx)
	})
	return err
}

type operationMeta struct {
	entity EntityType
	action Action
}

var operationMetadata = map[string]operationMeta{
	"start_event":          {entity: EntityEvent, action: ActionCreate},
	"add_participant":      {entity: EntityParticipant, action: ActionCreate},
	"remove_participant":   {entity: EntityParticipant, action: ActionDelete},
	"run_assignment":       {entity: EntityAssignment, action: ActionUpdate},
	"record_gift":          {entity: EntityGift, action: ActionUpdate},
	"record_communication": {entity: EntityCommunication, action: ActionCreate},
	"ask_giftee":           {entity: EntityCommunication, action: ActionCreate},
	"reply_santa":          {entity: EntityCommunication, action: ActionCreate},
	"set_wishlist":         {entity: EntityWishlist, action: ActionUpdate},
	"add_wishlist_item":    {entity: EntityWishlist, action: ActionUpdate},
	"remove_wishlist_item": {entity: EntityWishlist, action: ActionUpdate},
	"clear_wishlist":       {entity: EntityWishlist, action: ActionDelete},
	"stop_and_archive":     {entity: EntityEvent, action: ActionDelete},
	"restore_year":         {entity: EntityEvent, action: ActionCreate},
	"delete_year":          {entity: EntityEvent, action: ActionDelete},
	"backup_state":         {entity: EntityEvent, action: ActionUpdate},
}

// run wraps an operation with tracing, metrics, audit and logging.
func (s *Service) run(ctx context.Context, op, entityID string, fn func(context.Context) (Result, error)) (Result, error) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	res, err := fn(ctx)
	duration := time.Since(started)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	s.recordAudit(ctx, op, entityID, duration, err)

	for _, v := range res.Violations {
		if v.Severity == SeverityWarn {
			s.logger.Warn("rule warning", "op", op, "rule", v.Rule, "entity_id", v.EntityID, "message", v.Message)
		}
	}
	if err != nil {
		var blocked RuleViolationError
		switch {
		case errors.As(err, &blocked):
			s.logger.Warn("operation blocked", "op", op, "entity_id", entityID, "error", err)
		case isExpected(err):
			s.logger.Info("operation rejected", "op", op, "entity_id", entityID, "error", err)
		default:
			s.logger.Error("operation failed", "op", op, "entity_id", entityID, "error", err)
		}
		return res, err
	}
	s.logger.Debug("operation completed", "op", op, "entity_id", entityID, "duration", duration)
	return res, nil
}

func (s *Service) recordAudit(ctx context.Context, op, entityID string, duration time.Duration, err error) {
	meta := operationMetadata[op]
	entry := AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}

var expectedErrors = []error{
	domain.ErrEventActive,
	domain.ErrNoActiveEvent,
	domain.ErrJoinClosed,
	domain.ErrParticipantExists,
	domain.ErrParticipantNotFound,
	domain.ErrNoAssignment,
	domain.ErrEmptyMessage,
	domain.ErrMessageTooLong,
	domain.ErrEmptyItem,
	domain.ErrDuplicateItem,
	domain.ErrWishlistFull,
	domain.ErrWishlistIndex,
	domain.ErrArchiveNotFound,
	domain.ErrArchiveExists,
	domain.ErrNothingToRestore,
	domain.ErrInvalidYear,
}

func isExpected(err error) bool {
	for _, target := range expectedErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	var infeasible *domain.InfeasibleAssignmentError
	return errors.As(err, &infeasible)
}

// deliver sends msgs outside the guard and converts failures into warnings.
func (s *Service) deliver(ctx context.Context, msgs []notify.Message, res *Result) {
	if s.dispatch == nil || len(msgs) == 0 {
		return
	}
	err := s.dispatch.Send(ctx, msgs)
	if err == nil {
		return
	}
	var de *notify.DeliveryError
	if !errors.As(err, &de) {
		res.Violations = append(res.Violations, deliveryViolation("", err))
		return
	}
	for _, id := range sortedKeys(de.Failures) {
		res.Violations = append(res.Violations, deliveryViolation(id, de.Failures[id]))
	}
}

func deliveryViolation(recipient string, err error) Violation {
	return Violation{
		Rule:     "delivery",
		Severity: SeverityWarn,
		Message:  fmt.Sprintf("could not notify %s: %v", recipient, err),
		Entity:   EntityParticipant,
		EntityID: recipient,
	}
}

func requireActive(ev Event) error {
	if !ev.Active {
		return domain.ErrNoActiveEvent
	}
	return nil
}

func requireOpen(ev Event) error {
	if err := requireActive(ev); err != nil {
		return err
	}
	if ev.JoinClosed {
		return domain.ErrJoinClosed
	}
	return nil
}

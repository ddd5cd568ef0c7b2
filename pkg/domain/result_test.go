package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestResultMergeAndBlocking(t *testing.T) {
	var result Result
	result.Merge(Result{Violations: []Violation{{Rule: "warn", Severity: SeverityWarn}}})
	if result.HasBlocking() {
		t.Fatalf("expected no blocking violations")
	}
	result.Merge(Result{Violations: []Violation{{Rule: "block", Severity: SeverityBlock, Message: "bad map"}}})
	if !result.HasBlocking() {
		t.Fatalf("expected blocking violation")
	}
	err := RuleViolationError{Result: result}
	if !strings.Contains(err.Error(), "bad map") {
		t.Fatalf("expected blocking message in error, got %q", err.Error())
	}
}

func TestResultMergeEmptyInput(t *testing.T) {
	original := Result{Violations: []Violation{{Rule: "existing", Severity: SeverityWarn}}}
	original.Merge(Result{})
	if len(original.Violations) != 1 || original.Violations[0].Rule != "existing" {
		t.Fatalf("expected original violations to remain, got %+v", original.Violations)
	}
}

func TestRulesEngineEvaluate(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticRule{"warn"})
	res, err := engine.Evaluate(context.Background(), emptyView{}, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 1 {
		t.Fatalf("expected violation")
	}
}

type staticRule struct{ name string }

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	return Result{Violations: []Violation{{Rule: r.name, Severity: SeverityWarn}}}, nil
}

type emptyView struct{}

func (emptyView) Event() Event { return NewEvent(2024) }

func TestRulesEngineEvaluateError(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(errorRule{})
	if _, err := engine.Evaluate(context.Background(), emptyView{}, nil); err == nil {
		t.Fatalf("expected evaluation error")
	}
}

type errorRule struct{}

func (errorRule) Name() string { return "error" }

func (errorRule) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	return Result{}, fmt.Errorf("boom")
}

func TestClassifiedErrors(t *testing.T) {
	wrapped := fmt.Errorf("archive: %w", &ArchiveCollisionWarning{Year: 2024, SideKey: "collisions/2024/x.json"})
	if !IsWarning(wrapped) {
		t.Fatalf("expected collision to be classified as warning")
	}
	if IsWarning(errors.New("plain")) || IsWarning(nil) {
		t.Fatalf("plain errors are not warnings")
	}
	var infeasible *InfeasibleAssignmentError
	if !errors.As(fmt.Errorf("run: %w", &InfeasibleAssignmentError{Participants: 1, Reason: "too few"}), &infeasible) {
		t.Fatalf("expected infeasible error to unwrap")
	}
	corrupt := &StateCorruptionError{Tier: LoadPrimary, Err: ErrArchiveNotFound}
	if !errors.Is(corrupt, ErrArchiveNotFound) {
		t.Fatalf("expected corruption error to unwrap cause")
	}
	if (&ConcurrentModificationError{Expected: 1, Actual: 2}).Error() == "" {
		t.Fatalf("expected message")
	}
}

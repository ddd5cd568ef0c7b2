package core

import (
	"context"
	"fmt"
	"sort"

	"secretsanta/pkg/domain"
)

// AssignmentIntegrityRule blocks commits whose assignment map is not a
// derangement of the participant set.
func AssignmentIntegrityRule() domain.Rule {
	return assignmentIntegrityRule{}
}

type assignmentIntegrityRule struct{}

func (assignmentIntegrityRule) Name() string { return "assignment_integrity" }

func (assignmentIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	ev := view.Event()
	if len(ev.Assignments) == 0 {
		return res, nil
	}

	givers := make([]string, 0, len(ev.Assignments))
	for giver := range ev.Assignments {
		givers = append(givers, giver)
	}
	sort.Strings(givers)

	received := make(map[string]string, len(ev.Assignments))
	for _, giver := range givers {
		receiver := ev.Assignments[giver]
		if _, ok := ev.Participants[giver]; !ok {
			res.Violations = append(res.Violations, integrityViolation(giver, fmt.Sprintf("giver %s is not a participant", giver)))
		}
		if _, ok := ev.Participants[receiver]; !ok {
			res.Violations = append(res.Violations, integrityViolation(giver, fmt.Sprintf("receiver %s is not a participant", receiver)))
		}
		if giver == receiver {
			res.Violations = append(res.Violations, integrityViolation(giver, fmt.Sprintf("participant %s is assigned to themselves", giver)))
		}
		if other, dup := received[receiver]; dup {
			res.Violations = append(res.Violations, integrityViolation(giver, fmt.Sprintf("receiver %s is assigned to both %s and %s", receiver, other, giver)))
		}
		received[receiver] = giver
	}
	for _, id := range ev.ParticipantIDs() {
		if _, ok := ev.Assignments[id]; !ok {
			res.Violations = append(res.Violations, integrityViolation(id, fmt.Sprintf("participant %s has no assignment", id)))
		}
	}
	return res, nil
}

func integrityViolation(entityID, message string) domain.Violation {
	return domain.Violation{
		Rule:     "assignment_integrity",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityAssignment,
		EntityID: entityID,
	}
}

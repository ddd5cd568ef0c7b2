package core

import (
	"context"
	"fmt"

	"secretsanta/pkg/domain"
)

// OrphanedRecordsRule warns when gifts, threads or wishlists reference someone
// who is no longer a participant.
func OrphanedRecordsRule() domain.Rule {
	return orphanedRecordsRule{}
}

type orphanedRecordsRule struct{}

func (orphanedRecordsRule) Name() string { return "orphaned_records" }

func (orphanedRecordsRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	ev := view.Event()
	check := func(entity domain.EntityType, ids []string) {
		for _, id := range ids {
			if _, ok := ev.Participants[id]; ok {
				continue
			}
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "orphaned_records",
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("%s kept for non-participant %s", entity, id),
				Entity:   entity,
				EntityID: id,
			})
		}
	}
	check(domain.EntityGift, sortedKeys(ev.GiftSubmissions))
	check(domain.EntityCommunication, sortedKeys(ev.Communications))
	check(domain.EntityWishlist, sortedKeys(ev.Wishlists))
	return res, nil
}

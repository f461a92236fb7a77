// Package reconcile turns per-attachment match results plus the user's
// stored verification state into a single terminal outcome.
package reconcile

import (
	"pool-verifier/internal/domain"
	"pool-verifier/internal/ranks"
)

// Reconcile applies the submission policy, in order:
//
//  1. Any attachment that is not a profile screen poisons the whole batch:
//     RejectInvalid. Users must submit only valid screenshots, not a mix.
//  2. No attachment matched a rank: RejectUnreadable.
//  3. Pick the best match by confidence. Ties keep the first-seen result;
//     attachments have a stable submission order, and the strict
//     greater-than in the fold is what makes that hold.
//  4. A stored rank whose band strictly exceeds the detected one never
//     downgrades: RejectNoUpgrade. Resubmitting the same rank is accepted;
//     the stored level only ever moves up when the record is rewritten.
//  5. Accept(best).
//
// A prior record naming a rank the table no longer knows is ignored, as if
// the user had no prior verification.
func Reconcile(results []domain.MatchResult, prior *domain.VerificationRecord, table *ranks.Table) domain.Outcome {
	for _, r := range results {
		if !r.IsProfileScreen {
			return domain.Outcome{Decision: domain.DecisionRejectInvalid}
		}
	}

	var best *domain.MatchResult
	for i := range results {
		r := &results[i]
		if r.Rank == nil {
			continue
		}
		if best == nil || r.Confidence > best.Confidence {
			best = r
		}
	}
	if best == nil {
		return domain.Outcome{Decision: domain.DecisionRejectUnreadable}
	}

	if prior != nil {
		if priorTier, ok := table.ByName(prior.RankName); ok {
			if priorTier.LevelMin > best.Rank.LevelMin {
				return domain.Outcome{Decision: domain.DecisionRejectNoUpgrade}
			}
		}
	}

	return domain.Outcome{
		Decision: domain.DecisionAccept,
		Rank:     best.Rank,
		Level:    best.LevelDetected,
	}
}

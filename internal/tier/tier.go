// Package tier looks up tier assignments and ladders and computes progress
// toward the next tier.
package tier

import (
	"context"
	"fmt"
	"math"

	"github.com/dukerupert/loyaltyportal/internal/model"
	"github.com/dukerupert/loyaltyportal/internal/query"
)

// Result is the progress shown under the tier badge.
type Result struct {
	Percent float64 `json:"percent"`
	// NextTier is empty at the top of the ladder.
	NextTier string `json:"next_tier,omitempty"`
	// PointsNeeded is only meaningful when HighestTier is false.
	PointsNeeded int  `json:"points_needed"`
	HighestTier  bool `json:"highest_tier"`
}

// baseTier stands in for an account without an assignment.
var baseTier = model.Tier{SequenceNumber: 1}

// Progress computes how far points have carried the assignment's tier toward
// the next rung of ladder.
func Progress(assignment *model.TierAssignment, points float64, ladder []model.Tier) Result {
	current := baseTier
	if assignment != nil && assignment.Tier != nil {
		current = *assignment.Tier
	}

	res := Result{Percent: 100}
	if hi := current.MaximumEligibleBalance; hi != nil && *hi > current.MinimumEligibleBalance {
		pct := (points - current.MinimumEligibleBalance) / (*hi - current.MinimumEligibleBalance) * 100
		res.Percent = math.Max(0, math.Min(100, pct))
	}

	next, ok := NextTier(current, ladder)
	if !ok {
		res.HighestTier = true
		return res
	}
	res.NextTier = next.Name
	res.PointsNeeded = int(math.Max(0, math.Ceil(next.MinimumEligibleBalance-points)))
	return res
}

// NextTier returns the ladder entry whose sequence directly follows current.
func NextTier(current model.Tier, ladder []model.Tier) (model.Tier, bool) {
	for _, t := range ladder {
		if t.SequenceNumber == current.SequenceNumber+1 {
			return t, true
		}
	}
	return model.Tier{}, false
}

type Service struct {
	runner query.Runner
}

func NewService(runner query.Runner) *Service {
	return &Service{runner: runner}
}

// Assignment returns the account's tier assignment, or nil.
func (s *Service) Assignment(ctx context.Context, accountID string) (*model.TierAssignment, error) {
	a, err := query.First[model.TierAssignment](ctx, s.runner,
		`SELECT Id, LoyaltyTierId, LoyaltyTier.Name, LoyaltyTier.SequenceNumber, LoyaltyTier.MinimumEligibleBalance, LoyaltyTier.MaximumEligibleBalance, LoyaltyTier.LoyaltyTierGroupId, EffectiveDate, TierExpirationDate FROM LoyaltyMemberTier WHERE LoyaltyMemberId = `+query.Quote(accountID))
	if err != nil {
		return nil, fmt.Errorf("tier for %s: %w", accountID, err)
	}
	return a, nil
}

// Ladder returns the tiers of a tier group in sequence order.
func (s *Service) Ladder(ctx context.Context, tierGroupID string) ([]model.Tier, error) {
	tiers, err := query.All[model.Tier](ctx, s.runner,
		`SELECT Id, Name, SequenceNumber, MinimumEligibleBalance, MaximumEligibleBalance FROM LoyaltyTier WHERE LoyaltyTierGroupId = `+query.Quote(tierGroupID)+` ORDER BY SequenceNumber`)
	if err != nil {
		return nil, fmt.Errorf("ladder %s: %w", tierGroupID, err)
	}
	for i := range tiers {
		tiers[i].TierGroupID = tierGroupID
	}
	return tiers, nil
}

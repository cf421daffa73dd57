package tier

import (
	"context"
	"math"
	"testing"

	"github.com/dukerupert/loyaltyportal/internal/model"
	"github.com/dukerupert/loyaltyportal/internal/query/querytest"
)

func ptr(f float64) *float64 { return &f }

var ladder = []model.Tier{
	{Name: "Silver", SequenceNumber: 1, MinimumEligibleBalance: 0, MaximumEligibleBalance: ptr(999)},
	{Name: "Gold", SequenceNumber: 2, MinimumEligibleBalance: 1000, MaximumEligibleBalance: ptr(2999)},
	{Name: "Platinum", SequenceNumber: 3, MinimumEligibleBalance: 3000},
}

func assigned(i int) *model.TierAssignment {
	t := ladder[i]
	return &model.TierAssignment{Tier: &t}
}

func TestProgressMidLadder(t *testing.T) {
	got := Progress(assigned(1), 1200, ladder)
	if math.Abs(got.Percent-10.005) > 0.01 {
		t.Errorf("percent = %v, want about 10.0", got.Percent)
	}
	if got.NextTier != "Platinum" || got.PointsNeeded != 1800 || got.HighestTier {
		t.Errorf("result = %+v, want Platinum/1800", got)
	}
}

func TestProgressTopOfLadder(t *testing.T) {
	got := Progress(assigned(2), 5000, ladder)
	if !got.HighestTier || got.NextTier != "" {
		t.Errorf("result = %+v, want highest tier", got)
	}
	if got.Percent != 100 {
		t.Errorf("percent = %v, want 100 without a maximum", got.Percent)
	}
}

func TestProgressPercentBounds(t *testing.T) {
	degenerate := &model.TierAssignment{Tier: &model.Tier{SequenceNumber: 1, MinimumEligibleBalance: 500, MaximumEligibleBalance: ptr(500)}}
	inverted := &model.TierAssignment{Tier: &model.Tier{SequenceNumber: 1, MinimumEligibleBalance: 500, MaximumEligibleBalance: ptr(100)}}

	tests := []struct {
		name       string
		assignment *model.TierAssignment
		points     float64
		want       float64
	}{
		{"below minimum clamps to zero", assigned(1), 10, 0},
		{"above maximum clamps to hundred", assigned(1), 99999, 100},
		{"max equals min", degenerate, 0, 100},
		{"max below min", inverted, 1000, 100},
		{"negative points", assigned(0), -50, 0},
		{"exact half", assigned(0), 499.5, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Progress(tt.assignment, tt.points, ladder).Percent
			if got < 0 || got > 100 {
				t.Fatalf("percent %v out of range", got)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("percent = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPointsNeeded(t *testing.T) {
	tests := []struct {
		points float64
		want   int
	}{
		{0, 1000},
		{999.4, 1},
		{999.99, 1},
		{1000, 0},
		{4000, 0},
	}
	for _, tt := range tests {
		got := Progress(assigned(0), tt.points, ladder)
		if got.PointsNeeded != tt.want {
			t.Errorf("points needed at %v = %d, want %d", tt.points, got.PointsNeeded, tt.want)
		}
		if got.PointsNeeded < 0 {
			t.Errorf("points needed negative at %v", tt.points)
		}
	}
}

func TestProgressSkipsGapsInSequence(t *testing.T) {
	gappy := []model.Tier{
		{Name: "Base", SequenceNumber: 1, MaximumEligibleBalance: ptr(100)},
		{Name: "Elite", SequenceNumber: 5, MinimumEligibleBalance: 101},
	}
	got := Progress(&model.TierAssignment{Tier: &gappy[0]}, 50, gappy)
	if !got.HighestTier {
		t.Errorf("result = %+v, want highest tier when sequence+1 is missing", got)
	}
}

func TestProgressWithoutAssignment(t *testing.T) {
	got := Progress(nil, 200, ladder)
	if got.Percent != 100 || got.NextTier != "Gold" || got.PointsNeeded != 800 {
		t.Errorf("result = %+v", got)
	}
}

func TestServiceLookups(t *testing.T) {
	fake := querytest.New().
		OnQuery([]string{"FROM LoyaltyMemberTier", "'id-1'"}, map[string]any{
			"Id":            "mt-1",
			"LoyaltyTierId": "t-2",
			"LoyaltyTier": map[string]any{
				"Name": "Gold", "SequenceNumber": 2, "MinimumEligibleBalance": 1000,
				"MaximumEligibleBalance": 2999, "LoyaltyTierGroupId": "tg-1",
			},
			"EffectiveDate":      "2026-01-01",
			"TierExpirationDate": nil,
		}).
		OnQuery([]string{"FROM LoyaltyTier WHERE LoyaltyTierGroupId = 'tg-1'", "ORDER BY SequenceNumber"},
			map[string]any{"Name": "Silver", "SequenceNumber": 1, "MinimumEligibleBalance": 0, "MaximumEligibleBalance": 999},
			map[string]any{"Name": "Gold", "SequenceNumber": 2, "MinimumEligibleBalance": 1000, "MaximumEligibleBalance": 2999},
			map[string]any{"Name": "Platinum", "SequenceNumber": 3, "MinimumEligibleBalance": 3000, "MaximumEligibleBalance": nil},
		)
	svc := NewService(fake)

	a, err := svc.Assignment(context.Background(), "id-1")
	if err != nil {
		t.Fatalf("assignment: %v", err)
	}
	if a.TierName() != "Gold" || a.TierGroupID() != "tg-1" || a.ExpirationDate != nil {
		t.Errorf("assignment = %+v", a)
	}

	l, err := svc.Ladder(context.Background(), a.TierGroupID())
	if err != nil {
		t.Fatalf("ladder: %v", err)
	}
	if len(l) != 3 || l[2].MaximumEligibleBalance != nil || l[0].TierGroupID != "tg-1" {
		t.Errorf("ladder = %+v", l)
	}

	none, err := svc.Assignment(context.Background(), "id-none")
	if err != nil || none != nil {
		t.Errorf("missing assignment = %v, %v; want nil, nil", none, err)
	}
}

// Package points aggregates currency balances into the qualifying and
// non-qualifying totals shown on the dashboard.
package points

import (
	"context"
	"fmt"

	"github.com/dukerupert/loyaltyportal/internal/member"
	"github.com/dukerupert/loyaltyportal/internal/model"
	"github.com/dukerupert/loyaltyportal/internal/query"
)

// Balances are an account's two ledgers.
type Balances struct {
	Qualifying    float64 `json:"qualifying"`
	NonQualifying float64 `json:"non_qualifying"`
}

// Total is the sum of both ledgers.
func (b Balances) Total() float64 {
	return b.Qualifying + b.NonQualifying
}

// Namer supplies the currency names used for classification.
type Namer interface {
	CurrencyNames() member.CurrencyNames
}

type Aggregator struct {
	runner query.Runner
	names  Namer
}

func NewAggregator(runner query.Runner, names Namer) *Aggregator {
	return &Aggregator{runner: runner, names: names}
}

const balanceFields = `LoyaltyMemberId, PointsBalance, LoyaltyProgramCurrency.Name, LoyaltyProgramCurrency.IsQualifyingCurrency`

// Qualifying reports whether b counts toward tier status. A name match on
// either configured currency wins over the record's own flag.
func Qualifying(b model.CurrencyBalance, names member.CurrencyNames) bool {
	name := b.CurrencyName()
	switch {
	case names.Qualifying != "" && name == names.Qualifying:
		return true
	case names.NonQualifying != "" && name == names.NonQualifying:
		return false
	default:
		return b.IsQualifying()
	}
}

// Sum classifies each balance into exactly one ledger. A later record of the
// same ledger replaces an earlier one.
func Sum(balances []model.CurrencyBalance, names member.CurrencyNames) Balances {
	var out Balances
	for _, b := range balances {
		if Qualifying(b, names) {
			out.Qualifying = b.Balance()
		} else {
			out.NonQualifying = b.Balance()
		}
	}
	return out
}

func (a *Aggregator) BalancesFor(ctx context.Context, accountID string) (Balances, error) {
	recs, err := query.All[model.CurrencyBalance](ctx, a.runner,
		`SELECT `+balanceFields+` FROM LoyaltyMemberCurrency WHERE LoyaltyMemberId = `+query.Quote(accountID))
	if err != nil {
		return Balances{}, fmt.Errorf("balances for %s: %w", accountID, err)
	}
	return Sum(recs, a.names.CurrencyNames()), nil
}

// BalancesForMany looks up every account in one query. Each requested id is
// present in the result; accounts without balances map to zero.
func (a *Aggregator) BalancesForMany(ctx context.Context, accountIDs []string) (map[string]Balances, error) {
	ids := dedupe(accountIDs)
	out := make(map[string]Balances, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	recs, err := query.All[model.CurrencyBalance](ctx, a.runner,
		`SELECT `+balanceFields+` FROM LoyaltyMemberCurrency WHERE LoyaltyMemberId IN `+query.QuoteList(ids))
	if err != nil {
		return nil, fmt.Errorf("balances for %d accounts: %w", len(ids), err)
	}

	grouped := make(map[string][]model.CurrencyBalance, len(ids))
	for _, r := range recs {
		grouped[r.AccountID] = append(grouped[r.AccountID], r)
	}
	names := a.names.CurrencyNames()
	for _, id := range ids {
		out[id] = Sum(grouped[id], names)
	}
	return out, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

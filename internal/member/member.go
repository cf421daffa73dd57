// Package member maps membership numbers to accounts and learns the
// program's currency names from the first account it sees.
package member

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dukerupert/loyaltyportal/internal/model"
	"github.com/dukerupert/loyaltyportal/internal/query"
)

const defaultCurrencyName = "Points"

// CurrencyNames are the detected or configured ledger names. Empty means
// unknown.
type CurrencyNames struct {
	Qualifying    string `json:"qualifying"`
	NonQualifying string `json:"non_qualifying"`
}

// Overrides are configured values that take precedence over detection.
type Overrides struct {
	QualifyingCurrency    string
	NonQualifyingCurrency string
	ProgramID             string
	ProgramName           string
}

// Resolver is session-scoped: detected names live as long as it does.
type Resolver struct {
	runner query.Runner
	logger *slog.Logger

	mu          sync.RWMutex
	names       CurrencyNames
	programID   string
	programName string
}

func NewResolver(runner query.Runner, o Overrides, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		runner: runner,
		logger: logger,
		names: CurrencyNames{
			Qualifying:    strings.TrimSpace(o.QualifyingCurrency),
			NonQualifying: strings.TrimSpace(o.NonQualifyingCurrency),
		},
		programID:   strings.TrimSpace(o.ProgramID),
		programName: strings.TrimSpace(o.ProgramName),
	}
}

const accountFields = `Id, MembershipNumber, MemberStatus, MemberType, ContactId, Contact.Name, Contact.Email, ProgramId, Program.Name`

// Resolve returns the account for membershipNumber, or nil when no account
// matches.
func (r *Resolver) Resolve(ctx context.Context, membershipNumber string) (*model.Account, error) {
	acct, err := query.First[model.Account](ctx, r.runner,
		`SELECT `+accountFields+` FROM LoyaltyProgramMember WHERE MembershipNumber = `+query.Quote(membershipNumber))
	if err != nil {
		return nil, fmt.Errorf("resolve member: %w", err)
	}
	if acct == nil {
		return nil, nil
	}

	r.mu.Lock()
	if r.programID == "" {
		r.programID = acct.ProgramID
	}
	if r.programName == "" {
		r.programName = acct.ProgramName()
	}
	r.mu.Unlock()

	if err := r.DetectCurrencies(ctx, acct.ID); err != nil {
		return nil, err
	}
	return acct, nil
}

// DetectCurrencies fills in whichever currency names are still unknown from
// the account's balances. It is a no-op once both are known.
func (r *Resolver) DetectCurrencies(ctx context.Context, accountID string) error {
	r.mu.RLock()
	known := r.names.Qualifying != "" && r.names.NonQualifying != ""
	r.mu.RUnlock()
	if known {
		return nil
	}

	balances, err := query.All[model.CurrencyBalance](ctx, r.runner,
		`SELECT LoyaltyProgramCurrency.Name, LoyaltyProgramCurrency.IsQualifyingCurrency FROM LoyaltyMemberCurrency WHERE LoyaltyMemberId = `+query.Quote(accountID))
	if err != nil {
		return fmt.Errorf("detect currencies: %w", err)
	}

	r.mu.Lock()
	r.names = detect(r.names, balances)
	names := r.names
	r.mu.Unlock()

	r.logger.Debug("currencies detected", "qualifying", names.Qualifying, "non_qualifying", names.NonQualifying)
	return nil
}

func detect(names CurrencyNames, balances []model.CurrencyBalance) CurrencyNames {
	for _, b := range balances {
		name := b.CurrencyName()
		if b.IsQualifying() {
			if names.Qualifying == "" {
				names.Qualifying = name
			}
		} else if names.NonQualifying == "" {
			names.NonQualifying = name
		}
	}
	if names.NonQualifying == "" && len(balances) > 0 {
		names.NonQualifying = balances[0].CurrencyName()
	}
	return names
}

func (r *Resolver) CurrencyNames() CurrencyNames {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names
}

// NonQualifyingDisplayName is the label shown next to spendable balances.
func (r *Resolver) NonQualifyingDisplayName() string {
	if n := r.CurrencyNames().NonQualifying; n != "" {
		return n
	}
	return defaultCurrencyName
}

func (r *Resolver) ProgramID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.programID
}

func (r *Resolver) ProgramName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.programName
}

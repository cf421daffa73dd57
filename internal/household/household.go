// Package household discovers group linkages and decides how a login enters
// the dashboard: straight into the group view, through the household offer,
// or as a standalone member.
package household

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukerupert/loyaltyportal/internal/model"
	"github.com/dukerupert/loyaltyportal/internal/query"
)

// Phase is a step of the household dialog.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseResolving        Phase = "resolving"
	PhaseDirectGroup      Phase = "direct_group"
	PhaseHouseholdOffered Phase = "household_offered"
	PhaseStandalone       Phase = "standalone"
)

// ErrNotOffered is returned when accepting or declining outside the offer.
var ErrNotOffered = errors.New("no household offer pending")

// Accept returns the phase after the member accepts the offer.
func (p Phase) Accept() (Phase, error) {
	if p != PhaseHouseholdOffered {
		return p, ErrNotOffered
	}
	return PhaseDirectGroup, nil
}

// Decline returns the phase after the member declines the offer.
func (p Phase) Decline() (Phase, error) {
	if p != PhaseHouseholdOffered {
		return p, ErrNotOffered
	}
	return PhaseStandalone, nil
}

// Settled reports whether the dialog has finished for this login.
func (p Phase) Settled() bool {
	return p == PhaseDirectGroup || p == PhaseStandalone
}

type Resolver struct {
	runner query.Runner
}

func NewResolver(runner query.Runner) *Resolver {
	return &Resolver{runner: runner}
}

// LinkageFor returns the account's upward linkage to a group owner, or nil.
func (r *Resolver) LinkageFor(ctx context.Context, accountID string) (*model.GroupLinkage, error) {
	l, err := query.First[model.GroupLinkage](ctx, r.runner,
		`SELECT Id, LoyaltyProgramGroupMemberId, LoyaltyProgramGroupMember.MembershipNumber, LoyaltyProgramGroupMember.Contact.Name, MemberPointContributionPercent FROM LoyaltyPgmGroupMbrRlnsp WHERE RelatedLoyaltyProgramMemberId = `+query.Quote(accountID))
	if err != nil {
		return nil, fmt.Errorf("linkage for %s: %w", accountID, err)
	}
	if l != nil && l.MemberID == "" {
		l.MemberID = accountID
	}
	return l, nil
}

// MembersOf lists the linkages owned by a group account.
func (r *Resolver) MembersOf(ctx context.Context, ownerID string) ([]model.GroupLinkage, error) {
	ls, err := query.All[model.GroupLinkage](ctx, r.runner,
		`SELECT Id, RelatedLoyaltyProgramMemberId, RelatedLoyaltyProgramMember.MembershipNumber, RelatedLoyaltyProgramMember.Contact.Name, RelatedLoyaltyProgramMember.MemberType, MemberRole, MemberPointContributionPercent FROM LoyaltyPgmGroupMbrRlnsp WHERE LoyaltyProgramGroupMemberId = `+query.Quote(ownerID))
	if err != nil {
		return nil, fmt.Errorf("members of %s: %w", ownerID, err)
	}
	for i := range ls {
		if ls[i].OwnerID == "" {
			ls[i].OwnerID = ownerID
		}
	}
	return ls, nil
}

// Decision is the outcome of resolving a login's household.
type Decision struct {
	Phase Phase
	// Owner is the group account: the account itself for DirectGroup, the
	// upward linkage's owner for HouseholdOffered, nil for Standalone.
	Owner   *model.AccountRef
	Members []model.GroupLinkage
	// Linkage is the account's own upward linkage. It is never set together
	// with a non-empty member list of the same account.
	Linkage *model.GroupLinkage
}

// Plan resolves which dialog phase a freshly resolved account enters. A group
// account never has its upward linkage queried.
func (r *Resolver) Plan(ctx context.Context, account *model.Account) (Decision, error) {
	if account == nil {
		return Decision{Phase: PhaseIdle}, errors.New("plan household: no account")
	}

	if account.IsGroup() {
		members, err := r.MembersOf(ctx, account.ID)
		if err != nil {
			return Decision{Phase: PhaseResolving}, err
		}
		ref := account.Ref()
		return Decision{Phase: PhaseDirectGroup, Owner: &ref, Members: members}, nil
	}

	link, err := r.LinkageFor(ctx, account.ID)
	if err != nil {
		return Decision{Phase: PhaseResolving}, err
	}
	if link == nil {
		return Decision{Phase: PhaseStandalone}, nil
	}

	members, err := r.MembersOf(ctx, link.OwnerID)
	if err != nil {
		return Decision{Phase: PhaseResolving}, err
	}
	owner := link.OwnerRef()
	return Decision{Phase: PhaseHouseholdOffered, Owner: &owner, Members: members, Linkage: link}, nil
}

// MemberIDs returns the member account ids of the linkages in order.
func MemberIDs(ls []model.GroupLinkage) []string {
	ids := make([]string, 0, len(ls))
	for _, l := range ls {
		ids = append(ids, l.MemberID)
	}
	return ids
}

package dashboard

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/loyaltyportal/internal/household"
	"github.com/dukerupert/loyaltyportal/internal/model"
	"github.com/dukerupert/loyaltyportal/internal/points"
	"github.com/dukerupert/loyaltyportal/internal/promotion"
	"github.com/dukerupert/loyaltyportal/internal/tier"
)

// Snapshot is everything the browser needs to draw the current state.
type Snapshot struct {
	Phase   household.Phase   `json:"phase"`
	View    View              `json:"view,omitempty"`
	Current *model.AccountRef `json:"current,omitempty"`
	Program ProgramView       `json:"program"`

	// Member is the account on screen. It is nil until the dashboard is
	// shown, including while the household offer is open.
	Member          *MemberView            `json:"member,omitempty"`
	Points          PointsView             `json:"points"`
	Tier            TierView               `json:"tier"`
	Vouchers        []VoucherView          `json:"vouchers"`
	Promotions      []promotion.Classified `json:"promotions"`
	PromotionsError string                 `json:"promotions_error,omitempty"`

	GroupOwner *model.AccountRef `json:"group_owner,omitempty"`
	Household  *HouseholdView    `json:"household,omitempty"`
	Offer      *HouseholdView    `json:"offer,omitempty"`
	Toggle     Toggle            `json:"toggle"`
}

type ProgramView struct {
	ID                 string `json:"id,omitempty"`
	Name               string `json:"name,omitempty"`
	QualifyingCurrency string `json:"qualifying_currency,omitempty"`
	CurrencyName       string `json:"currency_name"`
}

type MemberView struct {
	ID               string `json:"id"`
	MembershipNumber string `json:"membership_number"`
	Name             string `json:"name"`
	Email            string `json:"email,omitempty"`
	Status           string `json:"status"`
	Type             string `json:"type"`
}

type PointsView struct {
	Qualifying    float64 `json:"qualifying"`
	NonQualifying float64 `json:"non_qualifying"`
}

type TierView struct {
	// Name is empty for members without a tier assignment.
	Name           string      `json:"name"`
	Sequence       int         `json:"sequence,omitempty"`
	EffectiveDate  *model.Date `json:"effective_date,omitempty"`
	ExpirationDate *model.Date `json:"expiration_date,omitempty"`
	Progress       tier.Result `json:"progress"`
}

type VoucherView struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Status      string `json:"status"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// HouseholdView lists the accounts linked under a group owner. In the
// individual view only the owner is set.
type HouseholdView struct {
	Owner        *model.AccountRef `json:"owner,omitempty"`
	Members      []HouseholdMember `json:"members,omitempty"`
	Total        float64           `json:"total"`
	CurrencyName string            `json:"currency_name"`
}

type HouseholdMember struct {
	model.AccountRef
	Role      string            `json:"role,omitempty"`
	Points    float64           `json:"points"`
	IsCurrent bool              `json:"is_current"`
	Badges    []promotion.Badge `json:"badges,omitempty"`
}

// Toggle describes the view switch buttons.
type Toggle struct {
	Visible    bool `json:"visible"`
	Individual bool `json:"individual"`
	Group      bool `json:"group"`
}

func (s *Session) baseSnapshot(st *state) Snapshot {
	names := s.resolver.CurrencyNames()
	snap := Snapshot{
		Phase:      st.phase,
		GroupOwner: st.groupOwner,
		Program: ProgramView{
			ID:                 s.resolver.ProgramID(),
			Name:               s.resolver.ProgramName(),
			QualifyingCurrency: names.Qualifying,
			CurrencyName:       s.resolver.NonQualifyingDisplayName(),
		},
		Vouchers:   []VoucherView{},
		Promotions: []promotion.Classified{},
	}
	if st.current != nil {
		ref := st.current.Ref()
		snap.Current = &ref
	}
	return snap
}

// render builds the dashboard for st.displayed under st.view.
func (s *Session) render(ctx context.Context, st *state) (Snapshot, error) {
	p := st.displayed
	snap := s.baseSnapshot(st)
	snap.View = st.view
	snap.Member = memberView(p.Account)
	snap.Points = PointsView{Qualifying: p.Points.Qualifying, NonQualifying: p.Points.NonQualifying}

	ladder, err := s.ladder(ctx, st.ladders, p.Tier.TierGroupID())
	if err != nil {
		return Snapshot{}, err
	}
	snap.Tier = TierView{
		Name:     p.Tier.TierName(),
		Progress: tier.Progress(p.Tier, s.progressPoints(p.Points), ladder),
	}
	if p.Tier != nil {
		snap.Tier.EffectiveDate = p.Tier.EffectiveDate
		snap.Tier.ExpirationDate = p.Tier.ExpirationDate
		if p.Tier.Tier != nil {
			snap.Tier.Sequence = p.Tier.Tier.SequenceNumber
		}
	}

	for _, v := range p.Vouchers {
		vv := VoucherView{ID: v.ID, Code: v.Code, Status: v.Status, Name: "Voucher"}
		if v.Definition != nil {
			vv.Name = v.Definition.Name
			vv.Description = v.Definition.Description
		}
		snap.Vouchers = append(snap.Vouchers, vv)
	}

	promos, err := s.promotions.ForAccount(ctx, p.Account)
	if err != nil {
		s.logger.Warn("promotions unavailable", "error", err)
		snap.PromotionsError = err.Error()
	} else {
		snap.Promotions = promos
	}

	switch {
	case st.view == ViewGroup && len(st.groupMembers) > 0:
		rows, err := s.householdRows(ctx, st, true)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Household = rows
	case st.groupOwner != nil:
		snap.Household = &HouseholdView{Owner: st.groupOwner, CurrencyName: snap.Program.CurrencyName}
	}

	if st.groupOwner != nil {
		snap.Toggle = Toggle{Visible: true, Individual: !p.Account.IsGroup(), Group: true}
	}
	return snap, nil
}

func (s *Session) progressPoints(b points.Balances) float64 {
	if s.opts.ProgressCurrency == ProgressNonQualifying {
		return b.NonQualifying
	}
	return b.Qualifying
}

// householdRows builds the member rows with spendable points, and with
// promotion badges when withBadges is set.
func (s *Session) householdRows(ctx context.Context, st *state, withBadges bool) (*HouseholdView, error) {
	ids := household.MemberIDs(st.groupMembers)

	var (
		balances map[string]points.Balances
		badges   map[string][]promotion.Badge
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		balances, err = s.points.BalancesForMany(gctx, ids)
		return err
	})
	if withBadges {
		g.Go(func() error {
			var err error
			badges, err = s.promotions.ForMembers(gctx, ids)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	hv := &HouseholdView{Owner: st.groupOwner, CurrencyName: s.resolver.NonQualifyingDisplayName()}
	for _, l := range st.groupMembers {
		ref := l.MemberRef()
		m := HouseholdMember{
			AccountRef: ref,
			Role:       l.Role,
			Points:     balances[l.MemberID].NonQualifying,
			IsCurrent:  st.current != nil && ref.MembershipNumber == st.current.MembershipNumber,
			Badges:     badges[l.MemberID],
		}
		hv.Members = append(hv.Members, m)
		hv.Total += m.Points
	}
	return hv, nil
}

func memberView(a *model.Account) *MemberView {
	mv := &MemberView{
		ID:               a.ID,
		MembershipNumber: a.MembershipNumber,
		Name:             a.ContactName(),
		Status:           a.MemberStatus,
		Type:             a.MemberType,
	}
	if a.Contact != nil {
		mv.Email = a.Contact.Email
	}
	return mv
}

// Package dashboard owns a portal session's view state: which account is
// shown, in which view, and where the household dialog stands.
package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/loyaltyportal/internal/household"
	"github.com/dukerupert/loyaltyportal/internal/member"
	"github.com/dukerupert/loyaltyportal/internal/model"
	"github.com/dukerupert/loyaltyportal/internal/points"
	"github.com/dukerupert/loyaltyportal/internal/promotion"
	"github.com/dukerupert/loyaltyportal/internal/query"
	"github.com/dukerupert/loyaltyportal/internal/tier"
	"github.com/dukerupert/loyaltyportal/internal/voucher"
)

type View string

const (
	ViewIndividual View = "individual"
	ViewGroup      View = "group"
)

// ParseView validates a view name from a request.
func ParseView(s string) (View, error) {
	switch View(strings.ToLower(strings.TrimSpace(s))) {
	case ViewIndividual:
		return ViewIndividual, nil
	case ViewGroup:
		return ViewGroup, nil
	}
	return "", ErrInvalidView
}

var (
	ErrMembershipNumberRequired = errors.New("membership number is required")
	ErrMemberNotFound           = errors.New("member not found")
	ErrInvalidView              = errors.New("view must be individual or group")
	ErrNoMember                 = errors.New("no member is logged in")
	ErrNoHousehold              = errors.New("member does not belong to a household")
	ErrNotHouseholdMember       = errors.New("membership number is not part of this household")
	ErrHouseholdDecisionPending = errors.New("accept or decline the household first")
	ErrNoPendingHousehold       = household.ErrNotOffered
	// ErrSuperseded is returned when a newer login started while the
	// operation was in flight. Its result is discarded.
	ErrSuperseded = errors.New("superseded by a newer login")
	// ErrStateChanged is returned when another operation committed after
	// this one read the session state.
	ErrStateChanged = errors.New("dashboard changed, reload and try again")
)

// Progress currency choices.
const (
	ProgressQualifying    = "qualifying"
	ProgressNonQualifying = "non_qualifying"
)

// DemoTarget is the enrollment removed each time the household offer is
// shown, so a demo can be replayed.
type DemoTarget struct {
	AccountID   string
	PromotionID string
}

func (d DemoTarget) enabled() bool {
	return d.AccountID != "" && d.PromotionID != ""
}

type Options struct {
	// ProgressCurrency picks the ledger measured against the tier ladder.
	ProgressCurrency string
	Demo             DemoTarget
}

// Renderer receives every committed snapshot.
type Renderer interface {
	Render(sessionID string, snap Snapshot)
}

type RendererFunc func(sessionID string, snap Snapshot)

func (f RendererFunc) Render(sessionID string, snap Snapshot) { f(sessionID, snap) }

// Deps are shared by every session a registry creates.
type Deps struct {
	Client    query.Client
	Overrides member.Overrides
	Strategy  promotion.Strategy
	Process   string
	Options   Options
	Renderer  Renderer
	Logger    *slog.Logger
	Now       func() time.Time
}

// Payload is one account's data for a dashboard render.
type Payload struct {
	Account  *model.Account
	Points   points.Balances
	Tier     *model.TierAssignment
	Vouchers []model.Voucher
}

type ladderCache struct {
	mu sync.Mutex
	m  map[string][]model.Tier
}

func newLadderCache() *ladderCache {
	return &ladderCache{m: make(map[string][]model.Tier)}
}

type state struct {
	phase        household.Phase
	view         View
	current      *model.Account
	groupOwner   *model.AccountRef
	groupMembers []model.GroupLinkage
	pending      *Payload
	displayed    *Payload
	ladders      *ladderCache
}

// Session is the view-state machine for one browser.
type Session struct {
	id         string
	resolver   *member.Resolver
	points     *points.Aggregator
	households *household.Resolver
	tiers      *tier.Service
	vouchers   *voucher.Service
	promotions *promotion.Engine
	opts       Options
	renderer   Renderer
	logger     *slog.Logger

	mu      sync.Mutex
	gen     uint64 // bumped when a login starts
	version uint64 // bumped on every commit
	st      state
	last    Snapshot
}

// ticket identifies the state an operation started from.
type ticket struct {
	gen     uint64
	version uint64
	login   bool
}

func NewSession(id string, d Deps) *Session {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session", shortID(id))

	resolver := member.NewResolver(d.Client, d.Overrides, logger)
	opts := []promotion.Option{promotion.WithStrategy(d.Strategy), promotion.WithProcess(d.Process)}
	if d.Now != nil {
		opts = append(opts, promotion.WithClock(d.Now))
	}

	s := &Session{
		id:         id,
		resolver:   resolver,
		points:     points.NewAggregator(d.Client, resolver),
		households: household.NewResolver(d.Client),
		tiers:      tier.NewService(d.Client),
		vouchers:   voucher.NewService(d.Client),
		promotions: promotion.NewEngine(d.Client, resolver, opts...),
		opts:       d.Options,
		renderer:   d.Renderer,
		logger:     logger,
		st:         state{phase: household.PhaseIdle, ladders: newLadderCache()},
	}
	s.last = Snapshot{Phase: household.PhaseIdle}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (s *Session) ID() string { return s.id }

// Snapshot returns the last committed snapshot.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Session) begin() (state, ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st, ticket{gen: s.gen, version: s.version}
}

// commit installs next unless a newer login started since tk was taken. A
// non-login result is also dropped when any other commit landed in between.
// A login only yields to a newer login.
func (s *Session) commit(tk ticket, next state, snap Snapshot) (Snapshot, error) {
	s.mu.Lock()
	if tk.gen != s.gen {
		s.mu.Unlock()
		s.logger.Debug("discarding stale result", "generation", tk.gen)
		return Snapshot{}, ErrSuperseded
	}
	if !tk.login && tk.version != s.version {
		s.mu.Unlock()
		s.logger.Debug("discarding result built on old state", "version", tk.version)
		return Snapshot{}, ErrStateChanged
	}
	s.version++
	s.st = next
	s.last = snap
	s.mu.Unlock()

	if s.renderer != nil {
		s.renderer.Render(s.id, snap)
	}
	return snap, nil
}

// load fetches balances, tier and vouchers concurrently. Any failure fails
// the whole load.
func (s *Session) load(ctx context.Context, acct *model.Account) (*Payload, error) {
	p := &Payload{Account: acct}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := s.points.BalancesFor(gctx, acct.ID)
		p.Points = b
		return err
	})
	g.Go(func() error {
		a, err := s.tiers.Assignment(gctx, acct.ID)
		p.Tier = a
		return err
	})
	g.Go(func() error {
		v, err := s.vouchers.ForAccount(gctx, acct.ID)
		p.Vouchers = v
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return p, nil
}

// Login resolves membershipNumber and starts a fresh view state. A login
// supersedes any operation still in flight.
func (s *Session) Login(ctx context.Context, membershipNumber string) (Snapshot, error) {
	membershipNumber = strings.TrimSpace(membershipNumber)
	if membershipNumber == "" {
		return Snapshot{}, ErrMembershipNumberRequired
	}

	s.mu.Lock()
	s.gen++
	tk := ticket{gen: s.gen, version: s.version, login: true}
	s.mu.Unlock()

	acct, err := s.resolver.Resolve(ctx, membershipNumber)
	if err != nil {
		return Snapshot{}, err
	}
	if acct == nil {
		return Snapshot{}, ErrMemberNotFound
	}

	payload, err := s.load(ctx, acct)
	if err != nil {
		return Snapshot{}, err
	}
	decision, err := s.households.Plan(ctx, acct)
	if err != nil {
		return Snapshot{}, err
	}

	next := state{
		phase:        decision.Phase,
		view:         ViewIndividual,
		current:      acct,
		groupOwner:   decision.Owner,
		groupMembers: decision.Members,
		ladders:      newLadderCache(),
	}

	var snap Snapshot
	switch decision.Phase {
	case household.PhaseHouseholdOffered:
		next.pending = payload
		snap, err = s.offer(ctx, &next)
	case household.PhaseDirectGroup:
		next.view = ViewGroup
		next.displayed = payload
		snap, err = s.render(ctx, &next)
	default:
		next.displayed = payload
		snap, err = s.render(ctx, &next)
	}
	if err != nil {
		return Snapshot{}, err
	}

	s.logger.Info("member logged in", "membership_number", acct.MembershipNumber, "phase", decision.Phase)
	return s.commit(tk, next, snap)
}

func (s *Session) offer(ctx context.Context, st *state) (Snapshot, error) {
	rows, err := s.householdRows(ctx, st, false)
	if err != nil {
		return Snapshot{}, err
	}

	if s.opts.Demo.enabled() {
		if err := s.promotions.Unenroll(ctx, s.opts.Demo.AccountID, s.opts.Demo.PromotionID); err != nil {
			s.logger.Warn("demo unenroll skipped", "error", err)
		} else {
			s.logger.Debug("demo unenroll done", "account", s.opts.Demo.AccountID, "promotion", s.opts.Demo.PromotionID)
		}
	}

	snap := s.baseSnapshot(st)
	snap.Offer = rows
	return snap, nil
}

// AcceptHousehold shows the stashed payload under the group view.
func (s *Session) AcceptHousehold(ctx context.Context) (Snapshot, error) {
	return s.settle(ctx, true)
}

// DeclineHousehold shows the stashed payload under the individual view. The
// group owner is kept so the member can switch views later.
func (s *Session) DeclineHousehold(ctx context.Context) (Snapshot, error) {
	return s.settle(ctx, false)
}

func (s *Session) settle(ctx context.Context, accept bool) (Snapshot, error) {
	st, tk := s.begin()

	var (
		phase household.Phase
		err   error
		view  = ViewIndividual
	)
	if accept {
		phase, err = st.phase.Accept()
		view = ViewGroup
	} else {
		phase, err = st.phase.Decline()
	}
	if err != nil {
		return Snapshot{}, err
	}
	if st.pending == nil {
		return Snapshot{}, ErrNoPendingHousehold
	}

	next := st
	next.phase = phase
	next.view = view
	next.displayed = st.pending
	next.pending = nil

	snap, err := s.render(ctx, &next)
	if err != nil {
		return Snapshot{}, err
	}
	s.logger.Info("household decided", "accepted", accept)
	return s.commit(tk, next, snap)
}

// SwitchView re-fetches the group owner (group) or the current member
// (individual) and shows it in the requested view.
func (s *Session) SwitchView(ctx context.Context, view View) (Snapshot, error) {
	if view != ViewIndividual && view != ViewGroup {
		return Snapshot{}, ErrInvalidView
	}
	st, tk := s.begin()
	if err := st.settled(); err != nil {
		return Snapshot{}, err
	}
	if st.groupOwner == nil {
		return Snapshot{}, ErrNoHousehold
	}

	next := st
	next.view = view

	var target *model.Account
	if view == ViewGroup {
		acct, err := s.resolver.Resolve(ctx, st.groupOwner.MembershipNumber)
		if err != nil {
			return Snapshot{}, err
		}
		if acct == nil {
			acct = ownerAccount(*st.groupOwner)
		}
		target = acct
	} else {
		acct, err := s.resolver.Resolve(ctx, st.current.MembershipNumber)
		if err != nil {
			return Snapshot{}, err
		}
		if acct == nil {
			return Snapshot{}, ErrMemberNotFound
		}
		next.current = acct
		target = acct
	}

	payload, err := s.load(ctx, target)
	if err != nil {
		return Snapshot{}, err
	}
	next.displayed = payload

	snap, err := s.render(ctx, &next)
	if err != nil {
		return Snapshot{}, err
	}
	return s.commit(tk, next, snap)
}

func ownerAccount(ref model.AccountRef) *model.Account {
	a := &model.Account{ID: ref.ID, MembershipNumber: ref.MembershipNumber, MemberType: model.MemberTypeGroup}
	if ref.Name != "" {
		a.Contact = &model.Contact{Name: ref.Name}
	}
	return a
}

// SelectMember drills into one household member under the individual view.
func (s *Session) SelectMember(ctx context.Context, membershipNumber string) (Snapshot, error) {
	membershipNumber = strings.TrimSpace(membershipNumber)
	if membershipNumber == "" {
		return Snapshot{}, ErrMembershipNumberRequired
	}
	st, tk := s.begin()
	if err := st.settled(); err != nil {
		return Snapshot{}, err
	}
	if st.groupOwner == nil {
		return Snapshot{}, ErrNoHousehold
	}
	if !st.inHousehold(membershipNumber) {
		return Snapshot{}, ErrNotHouseholdMember
	}

	acct, err := s.resolver.Resolve(ctx, membershipNumber)
	if err != nil {
		return Snapshot{}, err
	}
	if acct == nil {
		return Snapshot{}, ErrMemberNotFound
	}
	payload, err := s.load(ctx, acct)
	if err != nil {
		return Snapshot{}, err
	}

	next := st
	next.view = ViewIndividual
	next.current = acct
	next.displayed = payload

	snap, err := s.render(ctx, &next)
	if err != nil {
		return Snapshot{}, err
	}
	return s.commit(tk, next, snap)
}

// EnrollInPromotion enrolls the current member, or a household member when
// membershipNumber is given, and re-renders the dashboard. A rejected
// enrollment leaves the view untouched.
func (s *Session) EnrollInPromotion(ctx context.Context, promotionName, membershipNumber string) (Snapshot, error) {
	st, tk := s.begin()
	if err := st.settled(); err != nil {
		return Snapshot{}, err
	}

	number := strings.TrimSpace(membershipNumber)
	if number == "" {
		number = st.current.MembershipNumber
	} else if number != st.current.MembershipNumber && !st.inHousehold(number) {
		return Snapshot{}, ErrNotHouseholdMember
	}

	if err := s.promotions.Enroll(ctx, number, promotionName); err != nil {
		return Snapshot{}, err
	}
	s.logger.Info("enrolled in promotion", "membership_number", number, "promotion", promotionName)

	snap, err := s.render(ctx, &st)
	if err != nil {
		return Snapshot{}, err
	}
	return s.commit(tk, st, snap)
}

func (st state) settled() error {
	switch {
	case st.phase == household.PhaseHouseholdOffered:
		return ErrHouseholdDecisionPending
	case st.current == nil || st.displayed == nil || !st.phase.Settled():
		return ErrNoMember
	}
	return nil
}

func (st state) inHousehold(membershipNumber string) bool {
	if st.groupOwner != nil && st.groupOwner.MembershipNumber == membershipNumber {
		return true
	}
	for _, l := range st.groupMembers {
		if l.MemberRef().MembershipNumber == membershipNumber {
			return true
		}
	}
	return false
}

func (s *Session) ladder(ctx context.Context, cache *ladderCache, groupID string) ([]model.Tier, error) {
	if groupID == "" {
		return nil, nil
	}
	cache.mu.Lock()
	l, ok := cache.m[groupID]
	cache.mu.Unlock()
	if ok {
		return l, nil
	}

	l, err := s.tiers.Ladder(ctx, groupID)
	if err != nil {
		return nil, err
	}
	cache.mu.Lock()
	cache.m[groupID] = l
	cache.mu.Unlock()
	return l, nil
}

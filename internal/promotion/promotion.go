// Package promotion classifies the program's promotions for a member and
// runs enroll and unenroll commands.
package promotion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/loyaltyportal/internal/model"
	"github.com/dukerupert/loyaltyportal/internal/query"
)

type Status string

const (
	StatusEnrolled            Status = "enrolled"
	StatusEligibleNotEnrolled Status = "eligible_not_enrolled"
	StatusIneligible          Status = "ineligible"
)

// Strategy selects how eligibility is derived.
type Strategy string

const (
	// StrategyCatalog combines the program's active promotions with the
	// member's enrollment records.
	StrategyCatalog Strategy = "catalog"
	// StrategyProcess asks a program process for a precomputed category.
	StrategyProcess Strategy = "process"
)

const (
	DefaultProcess = "GetEligiblePromotions"
	enrollProcess  = "Enroll"
)

var (
	ErrProgramUnknown = errors.New("loyalty program is not known yet")
	ErrInvalidInput   = errors.New("membership number and promotion name are required")
)

// Classified is one promotion as a particular member sees it.
type Classified struct {
	ID                 string      `json:"id"`
	Name               string      `json:"name"`
	Description        string      `json:"description"`
	StartDate          *model.Date `json:"start_date"`
	EndDate            *model.Date `json:"end_date"`
	Status             Status      `json:"status"`
	EnrollmentRequired bool        `json:"enrollment_required"`
	// AutoActive promotions apply without enrollment; no action is offered.
	AutoActive bool `json:"auto_active"`
	CanEnroll  bool `json:"can_enroll"`
}

// Badge marks a household member's state for one enrollment-required
// promotion.
type Badge struct {
	PromotionID string `json:"promotion_id"`
	Name        string `json:"name"`
	Enrolled    bool   `json:"enrolled"`
	CanEnroll   bool   `json:"can_enroll"`
}

// Program identifies the loyalty program commands are issued against.
type Program interface {
	ProgramID() string
	ProgramName() string
}

type Engine struct {
	client   query.Client
	program  Program
	strategy Strategy
	process  string
	now      func() time.Time
}

type Option func(*Engine)

func WithStrategy(s Strategy) Option {
	return func(e *Engine) {
		if s != "" {
			e.strategy = s
		}
	}
}

// WithProcess sets the program process used by StrategyProcess.
func WithProcess(name string) Option {
	return func(e *Engine) {
		if name != "" {
			e.process = name
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func NewEngine(client query.Client, program Program, opts ...Option) *Engine {
	e := &Engine{
		client:   client,
		program:  program,
		strategy: StrategyCatalog,
		process:  DefaultProcess,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) today() model.Date {
	return model.DateOf(e.now())
}

// Classify derives a member's view of p from whether the member holds an
// active enrollment for it.
func Classify(p model.Promotion, enrolled bool, today model.Date) Classified {
	c := Classified{
		ID:                 p.ID,
		Name:               p.Name,
		Description:        p.Description,
		StartDate:          p.StartDate,
		EndDate:            p.EndDate,
		EnrollmentRequired: p.IsEnrollmentRequired,
	}
	switch {
	case !p.IsEnrollmentRequired:
		c.Status = StatusEnrolled
		c.AutoActive = true
	case enrolled:
		c.Status = StatusEnrolled
	case p.EnrollmentOpen(today):
		c.Status = StatusEligibleNotEnrolled
		c.CanEnroll = true
	default:
		c.Status = StatusIneligible
	}
	return c
}

// ForAccount classifies every promotion the program currently runs for
// account.
func (e *Engine) ForAccount(ctx context.Context, account *model.Account) ([]Classified, error) {
	if e.strategy == StrategyProcess {
		return e.fromProcess(ctx, account.MembershipNumber)
	}

	var (
		promos   []model.Promotion
		enrolled map[string]bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		promos, err = e.Catalog(gctx)
		return err
	})
	g.Go(func() error {
		recs, err := e.enrollments(gctx, []string{account.ID})
		if err != nil {
			return err
		}
		enrolled = activeSet(recs)[account.ID]
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	today := e.today()
	out := make([]Classified, 0, len(promos))
	for _, p := range promos {
		out = append(out, Classify(p, enrolled[p.ID], today))
	}
	return out, nil
}

// Catalog returns the program's active promotions. Without a known program
// there is nothing to list.
func (e *Engine) Catalog(ctx context.Context) ([]model.Promotion, error) {
	pid := e.program.ProgramID()
	if pid == "" {
		return nil, nil
	}
	ps, err := query.All[model.Promotion](ctx, e.client,
		`SELECT Id, Name, Description, StartDate, EndDate, IsActive, IsEnrollmentRequired, EnrollmentStartDate, EnrollmentEndDate FROM Promotion WHERE LoyaltyProgramId = `+query.Quote(pid)+` AND IsActive = true`)
	if err != nil {
		return nil, fmt.Errorf("promotions: %w", err)
	}
	return ps, nil
}

func (e *Engine) enrollments(ctx context.Context, accountIDs []string) ([]model.PromotionEnrollment, error) {
	where := `LoyaltyProgramMemberId = ` + query.Quote(accountIDs[0])
	if len(accountIDs) > 1 {
		where = `LoyaltyProgramMemberId IN ` + query.QuoteList(accountIDs)
	}
	recs, err := query.All[model.PromotionEnrollment](ctx, e.client,
		`SELECT Id, LoyaltyProgramMemberId, PromotionId, Promotion.Name, Promotion.Description, IsEnrollmentActive FROM LoyaltyProgramMbrPromotion WHERE `+where)
	if err != nil {
		return nil, fmt.Errorf("enrollments: %w", err)
	}
	if len(accountIDs) == 1 {
		for i := range recs {
			if recs[i].AccountID == "" {
				recs[i].AccountID = accountIDs[0]
			}
		}
	}
	return recs, nil
}

// activeSet indexes active enrollments by account then promotion id.
func activeSet(recs []model.PromotionEnrollment) map[string]map[string]bool {
	out := make(map[string]map[string]bool)
	for _, r := range recs {
		if !r.IsEnrollmentActive {
			continue
		}
		if out[r.AccountID] == nil {
			out[r.AccountID] = make(map[string]bool)
		}
		out[r.AccountID][r.PromotionID] = true
	}
	return out
}

// ForMembers returns household badges for every enrollment-required
// promotion, keyed by member account id. It always uses the catalog so the
// whole household costs two queries.
func (e *Engine) ForMembers(ctx context.Context, accountIDs []string) (map[string][]Badge, error) {
	ids := make([]string, 0, len(accountIDs))
	seen := make(map[string]bool, len(accountIDs))
	for _, id := range accountIDs {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	out := make(map[string][]Badge, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var (
		promos []model.Promotion
		recs   []model.PromotionEnrollment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		promos, err = e.Catalog(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		recs, err = e.enrollments(gctx, ids)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	active := activeSet(recs)
	today := e.today()
	for _, id := range ids {
		badges := []Badge{}
		for _, p := range promos {
			if !p.IsEnrollmentRequired {
				continue
			}
			enrolled := active[id][p.ID]
			badges = append(badges, Badge{
				PromotionID: p.ID,
				Name:        p.Name,
				Enrolled:    enrolled,
				CanEnroll:   !enrolled && p.EnrollmentOpen(today),
			})
		}
		out[id] = badges
	}
	return out, nil
}

type processRequest struct {
	ProcessParameters []map[string]string `json:"processParameters"`
}

type processResult struct {
	PromotionID        string      `json:"promotionId"`
	PromotionName      string      `json:"promotionName"`
	Description        string      `json:"description"`
	StartDate          *model.Date `json:"startDate"`
	EndDate            *model.Date `json:"endDate"`
	EnrollmentRequired *bool       `json:"promotionEnrollmentRqr"`
	Category           string      `json:"memberEligibilityCategory"`
}

type processResponse struct {
	OutputParameters struct {
		OutputParameters struct {
			Results []processResult `json:"results"`
		} `json:"outputParameters"`
	} `json:"outputParameters"`
}

func (e *Engine) processPath(process string) (string, error) {
	name := e.program.ProgramName()
	if name == "" {
		return "", ErrProgramUnknown
	}
	return "connect/loyalty/programs/" + url.PathEscape(name) + "/program-processes/" + url.PathEscape(process), nil
}

func (e *Engine) fromProcess(ctx context.Context, membershipNumber string) ([]Classified, error) {
	path, err := e.processPath(e.process)
	if err != nil {
		return nil, err
	}
	raw, err := e.client.Post(ctx, path, processRequest{
		ProcessParameters: []map[string]string{{"MembershipNumber": membershipNumber}},
	})
	if err != nil {
		return nil, fmt.Errorf("eligible promotions: %w", err)
	}
	var resp processResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode eligible promotions: %w", err)
	}

	results := resp.OutputParameters.OutputParameters.Results
	out := make([]Classified, 0, len(results))
	for _, r := range results {
		out = append(out, r.classify())
	}
	return out, nil
}

func (r processResult) classify() Classified {
	c := Classified{
		ID:                 r.PromotionID,
		Name:               r.PromotionName,
		Description:        r.Description,
		StartDate:          r.StartDate,
		EndDate:            r.EndDate,
		EnrollmentRequired: r.EnrollmentRequired == nil || *r.EnrollmentRequired,
	}
	switch {
	case !c.EnrollmentRequired:
		c.Status = StatusEnrolled
		c.AutoActive = true
	case strings.EqualFold(r.Category, "Eligible"):
		c.Status = StatusEnrolled
	case strings.EqualFold(r.Category, "EligibleButNotEnrolled"):
		c.Status = StatusEligibleNotEnrolled
		c.CanEnroll = true
	default:
		c.Status = StatusIneligible
	}
	return c
}

// Enroll runs the program's Enroll process. A rejection comes back as the
// *query.CommandError carrying the remote message.
func (e *Engine) Enroll(ctx context.Context, membershipNumber, promotionName string) error {
	membershipNumber = strings.TrimSpace(membershipNumber)
	promotionName = strings.TrimSpace(promotionName)
	if membershipNumber == "" || promotionName == "" {
		return ErrInvalidInput
	}
	path, err := e.processPath(enrollProcess)
	if err != nil {
		return err
	}
	_, err = e.client.Post(ctx, path, processRequest{
		ProcessParameters: []map[string]string{{
			"MembershipNumber": membershipNumber,
			"PromotionName":    promotionName,
		}},
	})
	return err
}

// Unenroll deletes the member's enrollment record for a promotion. Having
// nothing to delete is not an error.
func (e *Engine) Unenroll(ctx context.Context, accountID, promotionID string) error {
	rec, err := query.First[model.PromotionEnrollment](ctx, e.client,
		`SELECT Id FROM LoyaltyProgramMbrPromotion WHERE LoyaltyProgramMemberId = `+query.Quote(accountID)+` AND PromotionId = `+query.Quote(promotionID))
	if err != nil {
		return fmt.Errorf("find enrollment: %w", err)
	}
	if rec == nil {
		return nil
	}

	err = e.client.Delete(ctx, "sobjects/LoyaltyProgramMbrPromotion/"+url.PathEscape(rec.ID))
	var ce *query.CommandError
	if errors.As(err, &ce) && ce.Status == http.StatusNotFound {
		return nil
	}
	return err
}

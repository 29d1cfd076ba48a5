package rules

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-promo/internal/promo"
)

// Repository is the persistence surface the service depends on.
type Repository interface {
	Insert(ctx context.Context, rec Record) error
	Update(ctx context.Context, rec Record) error
	Disable(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (Record, error)
	List(ctx context.Context, limit, offset int) ([]Record, int64, error)
}

// Auditor schedules background verification of a saved rule.
type Auditor interface {
	ScheduleAudit(ctx context.Context, ruleID uuid.UUID) error
}

// SlabInput is one quantity slab as submitted by an admin.
type SlabInput struct {
	MinQty  float64 `json:"min_qty" validate:"gte=0"`
	MaxQty  float64 `json:"max_qty" validate:"gte=0"`
	FreeQty float64 `json:"free_qty" validate:"gt=0"`
}

// RuleInput is the admin payload for creating or replacing a rule.
type RuleInput struct {
	Name              string      `json:"name" validate:"required,max=140"`
	CustomerGroup     string      `json:"customer_group" validate:"required,max=140"`
	Company           string      `json:"company" validate:"max=140"`
	Priority          int         `json:"priority" validate:"gte=0"`
	Policy            string      `json:"free_item_policy" validate:"omitempty,oneof=highest_qty fixed_item"`
	FixedFreeItemCode string      `json:"fixed_free_item_code" validate:"required_if=Policy fixed_item"`
	EligibleItems     []string    `json:"eligible_items" validate:"required,min=1,dive,required"`
	Slabs             []SlabInput `json:"slabs" validate:"required,min=1,dive"`
	Enabled           *bool       `json:"enabled"`
}

// Service validates and persists promotion rules. Every successful write
// schedules an audit task so configuration mistakes surface out of band.
type Service struct {
	Repo     Repository
	Audit    Auditor
	Validate *validator.Validate
	Logger   zerolog.Logger
}

// Create persists a new rule and returns the stored record.
func (s *Service) Create(ctx context.Context, in RuleInput) (Record, error) {
	rec, err := s.buildRecord(in)
	if err != nil {
		return Record{}, err
	}
	rec.ID = uuid.New()
	if err := s.Repo.Insert(ctx, rec); err != nil {
		return Record{}, err
	}
	s.scheduleAudit(ctx, rec.ID)
	return s.Repo.Get(ctx, rec.ID)
}

// Replace overwrites an existing rule.
func (s *Service) Replace(ctx context.Context, id uuid.UUID, in RuleInput) (Record, error) {
	rec, err := s.buildRecord(in)
	if err != nil {
		return Record{}, err
	}
	rec.ID = id
	if err := s.Repo.Update(ctx, rec); err != nil {
		return Record{}, err
	}
	s.scheduleAudit(ctx, id)
	return s.Repo.Get(ctx, id)
}

// Disable flips a rule off.
func (s *Service) Disable(ctx context.Context, id uuid.UUID) error {
	return s.Repo.Disable(ctx, id)
}

// Get loads one rule.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	return s.Repo.Get(ctx, id)
}

// List returns a page of rules and the total count.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Record, int64, error) {
	return s.Repo.List(ctx, limit, offset)
}

// BuildRule converts validated admin input into an evaluation-ready rule.
// Used by the preview endpoint; the rule is never persisted.
func (s *Service) BuildRule(in RuleInput) (*promo.Rule, error) {
	rec, err := s.buildRecord(in)
	if err != nil {
		return nil, err
	}
	eligible := make(map[string]struct{}, len(rec.Items))
	for _, code := range rec.Items {
		eligible[code] = struct{}{}
	}
	return &promo.Rule{
		RuleHeader: promo.RuleHeader{
			CustomerGroup:     rec.CustomerGroup,
			Company:           rec.Company,
			Priority:          rec.Priority,
			Policy:            rec.Policy,
			FixedFreeItemCode: rec.FixedFreeItemCode,
		},
		EligibleItems: eligible,
		Slabs:         rec.Slabs,
	}, nil
}

// buildRecord validates and normalizes input: item codes are trimmed and
// deduplicated, slabs are sorted ascending by MinQty, and a bounded slab must
// close above its own lower bound.
func (s *Service) buildRecord(in RuleInput) (Record, error) {
	if err := s.Validate.Struct(in); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	seen := make(map[string]struct{}, len(in.EligibleItems))
	items := make([]string, 0, len(in.EligibleItems))
	for _, code := range in.EligibleItems {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		items = append(items, code)
	}
	if len(items) == 0 {
		return Record{}, fmt.Errorf("%w: eligible_items has no usable codes", ErrInvalidInput)
	}
	sort.Strings(items)

	slabs := make([]promo.Slab, 0, len(in.Slabs))
	for _, sl := range in.Slabs {
		if sl.MaxQty != 0 && sl.MaxQty <= sl.MinQty {
			return Record{}, fmt.Errorf("%w: slab max_qty %v must exceed min_qty %v", ErrInvalidInput, sl.MaxQty, sl.MinQty)
		}
		slabs = append(slabs, promo.Slab{MinQty: sl.MinQty, MaxQty: sl.MaxQty, FreeQty: sl.FreeQty})
	}
	sort.SliceStable(slabs, func(i, j int) bool { return slabs[i].MinQty < slabs[j].MinQty })

	policy := promo.FreeItemPolicy(in.Policy)
	if policy == "" {
		policy = promo.PolicyHighestQty
	}
	enabled := true
	if in.Enabled != nil {
		enabled = *in.Enabled
	}

	return Record{
		Name:              strings.TrimSpace(in.Name),
		CustomerGroup:     strings.TrimSpace(in.CustomerGroup),
		Company:           strings.TrimSpace(in.Company),
		Priority:          in.Priority,
		Policy:            policy,
		FixedFreeItemCode: strings.TrimSpace(in.FixedFreeItemCode),
		Enabled:           enabled,
		Items:             items,
		Slabs:             slabs,
	}, nil
}

func (s *Service) scheduleAudit(ctx context.Context, id uuid.UUID) {
	if s.Audit == nil {
		return
	}
	if err := s.Audit.ScheduleAudit(ctx, id); err != nil {
		s.Logger.Warn().Err(err).Str("rule_id", id.String()).Msg("rule audit enqueue failed")
	}
}

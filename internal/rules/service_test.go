package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-promo/internal/promo"
)

type fakeRepo struct {
	records map[uuid.UUID]Record
	inserts int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: make(map[uuid.UUID]Record)}
}

func (f *fakeRepo) Insert(ctx context.Context, rec Record) error {
	f.inserts++
	f.records[rec.ID] = rec
	return nil
}

func (f *fakeRepo) Update(ctx context.Context, rec Record) error {
	if _, ok := f.records[rec.ID]; !ok {
		return ErrNotFound
	}
	f.records[rec.ID] = rec
	return nil
}

func (f *fakeRepo) Disable(ctx context.Context, id uuid.UUID) error {
	rec, ok := f.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.Enabled = false
	f.records[id] = rec
	return nil
}

func (f *fakeRepo) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	rec, ok := f.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (f *fakeRepo) List(ctx context.Context, limit, offset int) ([]Record, int64, error) {
	out := make([]Record, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, rec)
	}
	return out, int64(len(out)), nil
}

type fakeAuditor struct {
	scheduled []uuid.UUID
	err       error
}

func (f *fakeAuditor) ScheduleAudit(ctx context.Context, id uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	f.scheduled = append(f.scheduled, id)
	return nil
}

func validInput() RuleInput {
	return RuleInput{
		Name:          "Retail basket promo",
		CustomerGroup: "Retail",
		Priority:      10,
		EligibleItems: []string{" ITEM-B ", "ITEM-A", "ITEM-A"},
		Slabs: []SlabInput{
			{MinQty: 20, MaxQty: 0, FreeQty: 5},
			{MinQty: 10, MaxQty: 20, FreeQty: 2},
		},
	}
}

func newService(repo Repository, audit Auditor) *Service {
	return &Service{Repo: repo, Audit: audit, Validate: validator.New()}
}

func TestCreateNormalizesInput(t *testing.T) {
	repo := newFakeRepo()
	audit := &fakeAuditor{}
	svc := newService(repo, audit)

	rec, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)

	require.Equal(t, []string{"ITEM-A", "ITEM-B"}, rec.Items, "items trimmed, deduplicated, sorted")
	require.Equal(t, 10.0, rec.Slabs[0].MinQty, "slabs sorted by min_qty")
	require.Equal(t, promo.PolicyHighestQty, rec.Policy, "policy defaults to highest_qty")
	require.True(t, rec.Enabled)
	require.Len(t, audit.scheduled, 1)
	require.Equal(t, rec.ID, audit.scheduled[0])
}

func TestCreateRejectsFixedItemWithoutCode(t *testing.T) {
	svc := newService(newFakeRepo(), nil)
	in := validInput()
	in.Policy = "fixed_item"

	_, err := svc.Create(context.Background(), in)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreateRejectsInvertedSlab(t *testing.T) {
	svc := newService(newFakeRepo(), nil)
	in := validInput()
	in.Slabs = []SlabInput{{MinQty: 10, MaxQty: 5, FreeQty: 1}}

	_, err := svc.Create(context.Background(), in)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreateRejectsBlankItems(t *testing.T) {
	svc := newService(newFakeRepo(), nil)
	in := validInput()
	in.EligibleItems = []string{"   "}

	_, err := svc.Create(context.Background(), in)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreateSurvivesAuditFailure(t *testing.T) {
	repo := newFakeRepo()
	audit := &fakeAuditor{err: errors.New("queue down")}
	svc := newService(repo, audit)

	_, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err, "audit enqueue failure must not fail the write")
	require.Equal(t, 1, repo.inserts)
}

func TestReplaceUnknownRule(t *testing.T) {
	svc := newService(newFakeRepo(), nil)

	_, err := svc.Replace(context.Background(), uuid.New(), validInput())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBuildRulePreviewShape(t *testing.T) {
	svc := newService(newFakeRepo(), nil)
	in := validInput()
	in.Policy = "fixed_item"
	in.FixedFreeItemCode = " ITEM-Z "

	rule, err := svc.BuildRule(in)
	require.NoError(t, err)
	require.Equal(t, promo.PolicyFixedItem, rule.Policy)
	require.Equal(t, "ITEM-Z", rule.FixedFreeItemCode)
	require.True(t, rule.Eligible("ITEM-A"))
	require.False(t, rule.Eligible("ITEM-Z"))
	require.Equal(t, 10.0, rule.Slabs[0].MinQty)
}

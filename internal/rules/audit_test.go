package rules

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	known  map[string]bool
	warmed []string
	err    error
}

func (f *fakeChecker) Exists(ctx context.Context, code string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.known[code], nil
}

func (f *fakeChecker) DisplayNameOf(ctx context.Context, code string) (string, error) {
	f.warmed = append(f.warmed, code)
	return "Name of " + code, nil
}

func auditPayload(t *testing.T, id uuid.UUID) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]string{"rule_id": id.String()})
	require.NoError(t, err)
	return raw
}

type fakeInvalidator struct {
	groups []string
}

func (f *fakeInvalidator) Invalidate(ctx context.Context, group string) error {
	f.groups = append(f.groups, group)
	return nil
}

func TestAuditWorkerCleanRule(t *testing.T) {
	repo := newFakeRepo()
	id := uuid.New()
	repo.records[id] = Record{ID: id, CustomerGroup: "Retail", Items: []string{"ITEM-A", "ITEM-B"}}

	checker := &fakeChecker{known: map[string]bool{"ITEM-A": true, "ITEM-B": true}}
	chains := &fakeInvalidator{}
	w := AuditWorker{Repo: repo, Items: checker, Chains: chains, Logger: zerolog.Nop()}

	require.NoError(t, w.Handle(context.Background(), auditPayload(t, id)))
	require.Equal(t, []string{"ITEM-A", "ITEM-B"}, checker.warmed)
	require.Equal(t, []string{"Retail"}, chains.groups)
}

func TestAuditWorkerUnknownItemIsNotRetried(t *testing.T) {
	repo := newFakeRepo()
	id := uuid.New()
	repo.records[id] = Record{ID: id, Items: []string{"ITEM-A"}, FixedFreeItemCode: "GHOST"}

	checker := &fakeChecker{known: map[string]bool{"ITEM-A": true}}
	w := AuditWorker{Repo: repo, Items: checker, Logger: zerolog.Nop()}

	require.NoError(t, w.Handle(context.Background(), auditPayload(t, id)),
		"configuration problems must not trigger queue retries")
}

func TestAuditWorkerMissingRule(t *testing.T) {
	w := AuditWorker{Repo: newFakeRepo(), Items: &fakeChecker{}, Logger: zerolog.Nop()}
	require.NoError(t, w.Handle(context.Background(), auditPayload(t, uuid.New())))
}

func TestAuditWorkerTransportErrorRetries(t *testing.T) {
	repo := newFakeRepo()
	id := uuid.New()
	repo.records[id] = Record{ID: id, Items: []string{"ITEM-A"}}

	checker := &fakeChecker{err: errors.New("db down")}
	w := AuditWorker{Repo: repo, Items: checker, Logger: zerolog.Nop()}

	require.Error(t, w.Handle(context.Background(), auditPayload(t, id)))
}

package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-promo/internal/obs"
)

// ItemChecker is the catalog surface the audit worker needs.
type ItemChecker interface {
	Exists(ctx context.Context, code string) (bool, error)
	DisplayNameOf(ctx context.Context, code string) (string, error)
}

// ChainInvalidator drops a cached customer-group ancestor chain.
type ChainInvalidator interface {
	Invalidate(ctx context.Context, group string) error
}

// AuditWorker verifies saved rules against the item catalog in the background.
// A rule referencing unknown items still evaluates (the engine tolerates
// missing names), but the misconfiguration is worth surfacing to operators.
type AuditWorker struct {
	Repo   Repository
	Items  ItemChecker
	Chains ChainInvalidator
	Logger zerolog.Logger
}

// Handle processes one audit task payload. Configuration problems are logged
// and counted but do not error: retrying would not fix them. Transport
// failures return an error so the queue retries.
func (w AuditWorker) Handle(ctx context.Context, payload []byte) error {
	var task struct {
		RuleID uuid.UUID `json:"rule_id"`
	}
	if err := json.Unmarshal(payload, &task); err != nil {
		w.Logger.Error().Err(err).Msg("undecodable audit payload")
		return nil
	}

	rec, err := w.Repo.Get(ctx, task.RuleID)
	if errors.Is(err, ErrNotFound) {
		w.Logger.Warn().Str("rule_id", task.RuleID.String()).Msg("audited rule no longer exists")
		countAudit("missing_rule")
		return nil
	}
	if err != nil {
		return fmt.Errorf("rules: audit load: %w", err)
	}

	// A rule edit can change which group the rule binds to; drop the cached
	// chain so the next resolution sees the group fresh.
	if w.Chains != nil && rec.CustomerGroup != "" {
		if err := w.Chains.Invalidate(ctx, rec.CustomerGroup); err != nil {
			w.Logger.Warn().Err(err).Str("customer_group", rec.CustomerGroup).Msg("chain cache invalidation failed")
		}
	}

	codes := rec.Items
	if rec.FixedFreeItemCode != "" {
		codes = append(append([]string{}, codes...), rec.FixedFreeItemCode)
	}

	clean := true
	for _, code := range codes {
		ok, err := w.Items.Exists(ctx, code)
		if err != nil {
			return fmt.Errorf("rules: audit item %q: %w", code, err)
		}
		if !ok {
			clean = false
			w.Logger.Warn().
				Str("rule_id", rec.ID.String()).
				Str("item_code", code).
				Msg("rule references unknown item")
			continue
		}
		// Warm the display-name cache so the first evaluation after a rule
		// change does not pay the catalog lookup.
		if _, err := w.Items.DisplayNameOf(ctx, code); err != nil {
			return fmt.Errorf("rules: audit warm %q: %w", code, err)
		}
	}

	if clean {
		countAudit("ok")
	} else {
		countAudit("config_error")
	}
	return nil
}

func countAudit(result string) {
	if obs.RuleAuditsTotal != nil {
		obs.RuleAuditsTotal.WithLabelValues(result).Inc()
	}
}

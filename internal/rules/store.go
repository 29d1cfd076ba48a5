package rules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-promo/internal/obs"
	"github.com/noah-isme/backend-promo/internal/promo"
)

var (
	// ErrNotFound is returned when a rule id does not exist.
	ErrNotFound = errors.New("rules: not found")
	// ErrInvalidInput wraps validation failures on admin payloads.
	ErrInvalidInput = errors.New("rules: invalid input")
)

// Record is a persisted promotion rule with its eligible items and slabs.
type Record struct {
	ID                uuid.UUID            `json:"id"`
	Name              string               `json:"name"`
	CustomerGroup     string               `json:"customer_group"`
	Company           string               `json:"company,omitempty"`
	Priority          int                  `json:"priority"`
	Policy            promo.FreeItemPolicy `json:"free_item_policy"`
	FixedFreeItemCode string               `json:"fixed_free_item_code,omitempty"`
	Enabled           bool                 `json:"enabled"`
	Items             []string             `json:"eligible_items"`
	Slabs             []promo.Slab         `json:"slabs"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// Store persists promotion rules in Postgres and doubles as the engine's
// RuleSource. Writes replace the rule's items and slabs wholesale inside one
// transaction; a rule is never observable half-updated.
type Store struct {
	Pool *pgxpool.Pool
}

const headerColumns = `id, name, customer_group, company, priority, free_item_policy, fixed_free_item_code, enabled, created_at, updated_at`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID, &rec.Name, &rec.CustomerGroup, &rec.Company, &rec.Priority,
		&rec.Policy, &rec.FixedFreeItemCode, &rec.Enabled, &rec.CreatedAt, &rec.UpdatedAt,
	)
	return rec, err
}

// ActiveRulesFor returns enabled rule headers whose customer group is in the
// chain, ordered by priority descending. The resolver applies specificity and
// company preference on top of this ordering.
func (s *Store) ActiveRulesFor(ctx context.Context, chain []string) ([]promo.RuleHeader, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, customer_group, company, priority, free_item_policy, fixed_free_item_code
		FROM promo_rules
		WHERE enabled AND customer_group = ANY($1)
		ORDER BY priority DESC, updated_at DESC`,
		chain,
	)
	if err != nil {
		return nil, fmt.Errorf("rules: query active: %w", err)
	}
	defer rows.Close()

	var headers []promo.RuleHeader
	for rows.Next() {
		var h promo.RuleHeader
		if err := rows.Scan(&h.ID, &h.CustomerGroup, &h.Company, &h.Priority, &h.Policy, &h.FixedFreeItemCode); err != nil {
			return nil, fmt.Errorf("rules: scan header: %w", err)
		}
		headers = append(headers, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rules: query active: %w", err)
	}
	if obs.RuleResolutionsTotal != nil {
		result := "matched"
		if len(headers) == 0 {
			result = "none"
		}
		obs.RuleResolutionsTotal.WithLabelValues(result).Inc()
	}
	return headers, nil
}

// EligibleItemsOf returns the item codes counted toward the rule's basket.
func (s *Store) EligibleItemsOf(ctx context.Context, ruleID uuid.UUID) ([]string, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT item_code FROM promo_rule_items WHERE rule_id = $1 ORDER BY item_code`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("rules: query items: %w", err)
	}
	defer rows.Close()

	var items []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("rules: scan item: %w", err)
		}
		items = append(items, code)
	}
	return items, rows.Err()
}

// SlabsOf returns the rule's slabs ordered by MinQty ascending.
func (s *Store) SlabsOf(ctx context.Context, ruleID uuid.UUID) ([]promo.Slab, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT min_qty, max_qty, free_qty FROM promo_rule_slabs WHERE rule_id = $1 ORDER BY min_qty ASC`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("rules: query slabs: %w", err)
	}
	defer rows.Close()

	var slabs []promo.Slab
	for rows.Next() {
		var sl promo.Slab
		if err := rows.Scan(&sl.MinQty, &sl.MaxQty, &sl.FreeQty); err != nil {
			return nil, fmt.Errorf("rules: scan slab: %w", err)
		}
		slabs = append(slabs, sl)
	}
	return slabs, rows.Err()
}

// Insert stores a new rule with its items and slabs.
func (s *Store) Insert(ctx context.Context, rec Record) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO promo_rules (id, name, customer_group, company, priority, free_item_policy, fixed_free_item_code, enabled)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			rec.ID, rec.Name, rec.CustomerGroup, rec.Company, rec.Priority,
			rec.Policy, rec.FixedFreeItemCode, rec.Enabled,
		)
		if err != nil {
			return fmt.Errorf("rules: insert header: %w", err)
		}
		return insertChildren(ctx, tx, rec)
	})
}

// Update rewrites a rule's header, items and slabs. Returns ErrNotFound when
// the id does not exist.
func (s *Store) Update(ctx context.Context, rec Record) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE promo_rules
			SET name = $2, customer_group = $3, company = $4, priority = $5,
			    free_item_policy = $6, fixed_free_item_code = $7, enabled = $8, updated_at = now()
			WHERE id = $1`,
			rec.ID, rec.Name, rec.CustomerGroup, rec.Company, rec.Priority,
			rec.Policy, rec.FixedFreeItemCode, rec.Enabled,
		)
		if err != nil {
			return fmt.Errorf("rules: update header: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM promo_rule_items WHERE rule_id = $1`, rec.ID); err != nil {
			return fmt.Errorf("rules: clear items: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM promo_rule_slabs WHERE rule_id = $1`, rec.ID); err != nil {
			return fmt.Errorf("rules: clear slabs: %w", err)
		}
		return insertChildren(ctx, tx, rec)
	})
}

// Disable flips a rule off without deleting its configuration.
func (s *Store) Disable(ctx context.Context, id uuid.UUID) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE promo_rules SET enabled = false, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("rules: disable: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get loads one rule with its items and slabs.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	rec, err := scanRecord(s.Pool.QueryRow(ctx,
		`SELECT `+headerColumns+` FROM promo_rules WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("rules: get: %w", err)
	}
	if rec.Items, err = s.EligibleItemsOf(ctx, id); err != nil {
		return Record{}, err
	}
	if rec.Slabs, err = s.SlabsOf(ctx, id); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// List returns a page of rules ordered by priority descending then creation
// time, plus the total count for pagination.
func (s *Store) List(ctx context.Context, limit, offset int) ([]Record, int64, error) {
	var total int64
	if err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM promo_rules`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("rules: count: %w", err)
	}

	rows, err := s.Pool.Query(ctx, `
		SELECT `+headerColumns+`
		FROM promo_rules
		ORDER BY priority DESC, created_at DESC
		LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("rules: list: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("rules: scan rule: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rules: list: %w", err)
	}

	for i := range recs {
		if recs[i].Items, err = s.EligibleItemsOf(ctx, recs[i].ID); err != nil {
			return nil, 0, err
		}
		if recs[i].Slabs, err = s.SlabsOf(ctx, recs[i].ID); err != nil {
			return nil, 0, err
		}
	}
	return recs, total, nil
}

func insertChildren(ctx context.Context, tx pgx.Tx, rec Record) error {
	for _, code := range rec.Items {
		if _, err := tx.Exec(ctx,
			`INSERT INTO promo_rule_items (rule_id, item_code) VALUES ($1, $2)`, rec.ID, code); err != nil {
			return fmt.Errorf("rules: insert item %q: %w", code, err)
		}
	}
	for i, sl := range rec.Slabs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO promo_rule_slabs (rule_id, position, min_qty, max_qty, free_qty)
			VALUES ($1, $2, $3, $4, $5)`,
			rec.ID, i, sl.MinQty, sl.MaxQty, sl.FreeQty); err != nil {
			return fmt.Errorf("rules: insert slab %d: %w", i, err)
		}
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("rules: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("rules: commit tx: %w", err)
	}
	return nil
}

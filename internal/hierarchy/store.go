package hierarchy

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// DB is the subset of pgxpool.Pool the store depends on.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store resolves customer-group ancestor chains from a nested-set table.
// The chain is ordered self first, root last.
type Store struct {
	DB DB
}

// AncestorsInclusive returns [group, parent, ..., root]. An unknown group is a
// data-not-found condition and yields the degenerate chain [group] with no
// error; only transport failures are returned as errors.
func (s *Store) AncestorsInclusive(ctx context.Context, group string) ([]string, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("hierarchy: store not configured")
	}
	var lft, rgt int64
	err := s.DB.QueryRow(ctx,
		`SELECT lft, rgt FROM customer_groups WHERE name = $1`, group,
	).Scan(&lft, &rgt)
	if errors.Is(err, pgx.ErrNoRows) {
		return []string{group}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hierarchy: lookup %q: %w", group, err)
	}

	rows, err := s.DB.Query(ctx,
		`SELECT name FROM customer_groups WHERE lft <= $1 AND rgt >= $2 ORDER BY lft DESC`,
		lft, rgt,
	)
	if err != nil {
		return nil, fmt.Errorf("hierarchy: ancestors of %q: %w", group, err)
	}
	defer rows.Close()

	var chain []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("hierarchy: scan ancestor: %w", err)
		}
		chain = append(chain, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("hierarchy: ancestors of %q: %w", group, err)
	}
	if len(chain) == 0 {
		chain = []string{group}
	}
	return chain, nil
}

package items

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
)

// DB is the subset of pgxpool.Pool the catalog depends on.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Catalog resolves item display names with a Redis look-aside cache. Unknown
// items resolve to an empty name with no error; callers fall back to the code.
type Catalog struct {
	DB     DB
	R      *redis.Client
	TTL    time.Duration
	Prefix string
}

func (c *Catalog) key(code string) string {
	prefix := c.Prefix
	if prefix == "" {
		prefix = "promo:item:"
	}
	return prefix + code
}

// DisplayNameOf returns the item's display name, or "" when the item is not in
// the catalog. Cache failures fall through to the database.
func (c *Catalog) DisplayNameOf(ctx context.Context, code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", nil
	}

	if c.R != nil {
		if name, err := c.R.Get(ctx, c.key(code)).Result(); err == nil {
			return name, nil
		}
	}

	var name string
	err := c.DB.QueryRow(ctx, `SELECT item_name FROM items WHERE code = $1`, code).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("items: lookup %q: %w", code, err)
	}

	if c.R != nil && c.TTL > 0 {
		_ = c.R.Set(ctx, c.key(code), name, c.TTL).Err()
	}
	return name, nil
}

// Exists reports whether the item code is present in the catalog. Used by the
// rule audit worker; the evaluation path never needs it.
func (c *Catalog) Exists(ctx context.Context, code string) (bool, error) {
	var one int
	err := c.DB.QueryRow(ctx, `SELECT 1 FROM items WHERE code = $1`, strings.TrimSpace(code)).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("items: exists %q: %w", code, err)
	}
	return true, nil
}

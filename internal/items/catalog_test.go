package items

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
)

type stubRow struct {
	name string
	err  error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if p, ok := dest[0].(*string); ok {
		*p = r.name
	}
	if p, ok := dest[0].(*int); ok {
		*p = 1
	}
	return nil
}

type stubDB struct {
	names map[string]string
	calls int
}

func (d *stubDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	d.calls++
	code, _ := args[0].(string)
	if name, ok := d.names[code]; ok {
		return stubRow{name: name}
	}
	return stubRow{err: pgx.ErrNoRows}
}

func TestDisplayNameOfCachesHits(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	db := &stubDB{names: map[string]string{"ITEM-A": "Widget A"}}
	catalog := &Catalog{DB: db, R: client, TTL: time.Minute}

	ctx := context.Background()
	name, err := catalog.DisplayNameOf(ctx, " ITEM-A ")
	if err != nil {
		t.Fatalf("first lookup: %v", err)
	}
	if name != "Widget A" {
		t.Fatalf("got %q, want Widget A", name)
	}

	name, err = catalog.DisplayNameOf(ctx, "ITEM-A")
	if err != nil {
		t.Fatalf("cached lookup: %v", err)
	}
	if name != "Widget A" {
		t.Fatalf("cached lookup got %q", name)
	}
	if db.calls != 1 {
		t.Fatalf("expected one database hit, got %d", db.calls)
	}
}

func TestDisplayNameOfUnknownItem(t *testing.T) {
	catalog := &Catalog{DB: &stubDB{}}
	name, err := catalog.DisplayNameOf(context.Background(), "NOPE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "" {
		t.Fatalf("unknown item must resolve to empty name, got %q", name)
	}
}

func TestDisplayNameOfBlankCode(t *testing.T) {
	db := &stubDB{}
	catalog := &Catalog{DB: db}
	if _, err := catalog.DisplayNameOf(context.Background(), "   "); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if db.calls != 0 {
		t.Fatalf("blank code must not touch the database")
	}
}

func TestExists(t *testing.T) {
	catalog := &Catalog{DB: &stubDB{names: map[string]string{"ITEM-A": "Widget A"}}}

	ok, err := catalog.Exists(context.Background(), "ITEM-A")
	if err != nil || !ok {
		t.Fatalf("expected ITEM-A to exist, ok=%v err=%v", ok, err)
	}
	ok, err = catalog.Exists(context.Background(), "ITEM-Z")
	if err != nil || ok {
		t.Fatalf("expected ITEM-Z to be absent, ok=%v err=%v", ok, err)
	}
}

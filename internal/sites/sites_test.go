package sites

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"ticketwatch/internal/eventbus"
	logx "ticketwatch/pkg/logx"
)

func TestStaticNormalizes(t *testing.T) {
	t.Parallel()
	got, err := Static{" a ", "", "b", "a"}.Sites(context.Background())
	if err != nil {
		t.Fatalf("Sites: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("Sites = %v", got)
	}
}

type providerFunc func(ctx context.Context) ([]string, error)

func (f providerFunc) Sites(ctx context.Context) ([]string, error) { return f(ctx) }

func TestCachedFallsBackToBackup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "backup_sites.json")
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	fail := false
	primary := providerFunc(func(context.Context) ([]string, error) {
		if fail {
			return nil, errors.New("db down")
		}
		return []string{"one", "two"}, nil
	})
	c := NewCached(primary, path, WithBus(bus))

	got, err := c.Sites(ctx)
	if err != nil || !reflect.DeepEqual(got, []string{"one", "two"}) {
		t.Fatalf("primary Sites = %v, %v", got, err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("backup not written: %v", err)
	}

	fail = true
	got, err = c.Sites(ctx)
	if err != nil || !reflect.DeepEqual(got, []string{"one", "two"}) {
		t.Fatalf("fallback Sites = %v, %v", got, err)
	}
	select {
	case ev := <-events:
		if ev.Type != eventbus.TypeSiteListFallback {
			t.Fatalf("event type = %q", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("no fallback event")
	}
}

func TestCachedMissingBackupIsEmpty(t *testing.T) {
	t.Parallel()
	primary := providerFunc(func(context.Context) ([]string, error) { return nil, errors.New("db down") })
	c := NewCached(primary, filepath.Join(t.TempDir(), "none.json"))
	got, err := c.Sites(context.Background())
	if err != nil || len(got) != 0 {
		t.Fatalf("Sites = %v, %v; want empty list", got, err)
	}
}

func TestCachedCorruptBackupReturnsError(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "b.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	primary := providerFunc(func(context.Context) ([]string, error) { return nil, errors.New("db down") })
	if _, err := NewCached(primary, path).Sites(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestBuildQuery(t *testing.T) {
	t.Parallel()
	want := `SELECT name FROM "public"."tables_sites" WHERE site_check = true`
	if got := BuildQuery(DefaultTable); got != want {
		t.Fatalf("BuildQuery = %q, want %q", got, want)
	}
}

func TestNewPostgresValidates(t *testing.T) {
	t.Parallel()
	if _, err := NewPostgres(PostgresConfig{}, logx.Nop()); !errors.Is(err, ErrNoDSN) {
		t.Fatalf("err = %v, want ErrNoDSN", err)
	}
	_, err := NewPostgres(PostgresConfig{DSN: "postgres://x", Table: "sites; DROP TABLE x"}, logx.Nop())
	if !errors.Is(err, ErrInvalidTable) {
		t.Fatalf("err = %v, want ErrInvalidTable", err)
	}
}

type fakeRows struct {
	names []string
	i     int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Next() bool {
	if r.i >= len(r.names) {
		return false
	}
	r.i++
	return true
}
func (r *fakeRows) Scan(dest ...any) error {
	*(dest[0].(*string)) = r.names[r.i-1]
	return nil
}
func (r *fakeRows) Values() ([]any, error) { return []any{r.names[r.i-1]}, nil }
func (r *fakeRows) RawValues() [][]byte    { return nil }
func (r *fakeRows) Conn() *pgx.Conn        { return nil }

type fakeDB struct {
	query string
	names []string
}

func (f *fakeDB) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	f.query = sql
	return &fakeRows{names: f.names}, nil
}

func TestPostgresRetriesConnect(t *testing.T) {
	t.Parallel()
	p, err := NewPostgres(PostgresConfig{DSN: "postgres://x", ConnectAttempts: 3, ConnectDelay: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	var slept []time.Duration
	p.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	db := &fakeDB{names: []string{"b", " a", "b"}}
	dials := 0
	p.dial = func(context.Context) (querier, func(), error) {
		dials++
		if dials < 3 {
			return nil, nil, errors.New("refused")
		}
		return db, func() {}, nil
	}

	got, err := p.Sites(context.Background())
	if err != nil {
		t.Fatalf("Sites: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Fatalf("Sites = %v", got)
	}
	if dials != 3 || len(slept) != 2 {
		t.Fatalf("dials=%d sleeps=%v", dials, slept)
	}
	if db.query != BuildQuery(DefaultTable) {
		t.Fatalf("query = %q", db.query)
	}

	// Connected pools are reused.
	if _, err := p.Sites(context.Background()); err != nil || dials != 3 {
		t.Fatalf("second Sites err=%v dials=%d", err, dials)
	}
}

func TestPostgresGivesUp(t *testing.T) {
	t.Parallel()
	p, _ := NewPostgres(PostgresConfig{DSN: "postgres://x", ConnectAttempts: 2}, logx.Nop())
	p.sleep = func(context.Context, time.Duration) error { return nil }
	p.dial = func(context.Context) (querier, func(), error) { return nil, nil, errors.New("refused") }
	if _, err := p.Sites(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

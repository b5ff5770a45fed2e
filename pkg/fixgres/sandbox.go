package fixgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"
)

// Sandbox is a per-test database handle scoped to its own schema.
type Sandbox struct {
	DB     *sql.DB
	Schema string
	Close  func()
}

var (
	bootOnce sync.Once
	booted   bool
	bootErr  error
)

// BootOnce starts the shared container. Call it from TestMain.
func BootOnce(t *testing.T, opts ...Option) {
	t.Helper()
	bootOnce.Do(func() {
		booted = true
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		cfg := &config{}
		for _, o := range opts {
			o(cfg)
		}
		bootErr = boot(ctx, cfg)
	})
	if bootErr != nil {
		t.Fatalf("fixgres boot failed: %v", bootErr)
	}
}

// NewSandbox creates a unique schema and returns a DB whose pooled
// connections all carry it in search_path. The schema is dropped on
// test cleanup.
func NewSandbox(t *testing.T) *Sandbox {
	t.Helper()
	if !booted {
		t.Fatalf("fixgres not booted. Call fixgres.BootOnce(...) in TestMain first.")
	}

	admin, err := sql.Open("pgx", connString) // admin connection (no search_path)
	if err != nil {
		t.Fatalf("open admin: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schema := fmt.Sprintf("t_%x", time.Now().UnixNano())

	if _, err := admin.ExecContext(ctx, `CREATE SCHEMA "`+schema+`"`); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	sbxDSN := withSearchPath(connString, schema)

	db, err := sql.Open("pgx", sbxDSN)
	if err != nil {
		t.Fatalf("open sandbox: %v", err)
	}

	sbx := &Sandbox{
		DB:     db,
		Schema: schema,
	}
	sbx.Close = func() {
		// drop schema with admin handle (it doesn't share the search_path)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = admin.ExecContext(ctx, `DROP SCHEMA IF EXISTS "`+schema+`" CASCADE`)
		_ = db.Close()
		_ = admin.Close()
	}
	t.Cleanup(sbx.Close)
	return sbx
}

func withSearchPath(base, schema string) string {
	u, _ := url.Parse(base)
	q := u.Query()
	q.Set("options", fmt.Sprintf("-csearch_path=%s,public", schema))
	u.RawQuery = q.Encode()
	return u.String()
}

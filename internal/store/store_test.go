package store

import (
	"context"
	"errors"
	"io/fs"
	"sync"
	"testing"

	"github.com/hamzaKhattat/call-mediator/internal/call"
)

func TestNoopCache(t *testing.T) {
	c := NoopCache()
	ctx := context.Background()

	c.Set(ctx, "k", true, 0)
	var v bool
	if c.Get(ctx, "k", &v) {
		t.Fatalf("expected noop cache to miss")
	}
	c.Delete(ctx, "k")
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("unexpected ping error: %v", err)
	}
}

func TestCacheKeyPrefix(t *testing.T) {
	c := &Cache{prefix: "cm"}
	if got := c.key("blocked:100"); got != "cm:blocked:100" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestDSN(t *testing.T) {
	cfg := Config{Username: "u", Password: "p", Host: "db", Port: 3306, Database: "calls"}
	want := "u:p@tcp(db:3306)/calls?parseTime=true&multiStatements=true&interpolateParams=true"
	if got := cfg.DSN(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("Deadlock found when trying to get lock"), true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("Duplicate entry"), false},
	}
	for _, tt := range tests {
		if got := isRetryableError(tt.err); got != tt.want {
			t.Fatalf("isRetryableError(%v): expected %v, got %v", tt.err, tt.want, got)
		}
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	files, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) < 2 {
		t.Fatalf("expected embedded migrations, got %v", files)
	}
}

func TestCallLogWritesLoggedCalls(t *testing.T) {
	var (
		mu      sync.Mutex
		entries []CallLogEntry
	)
	l := newCallLog(func(_ context.Context, e CallLogEntry) error {
		mu.Lock()
		defer mu.Unlock()
		entries = append(entries, e)
		return nil
	}, 4)

	l.Notify(call.ID(7), "call_silenced", map[string]interface{}{"handle": "100"})
	l.Notify(call.ID(7), EventCallLogged, map[string]interface{}{
		"type":     "missed",
		"handle":   "100",
		"duration": 0.0,
		"cause":    "MISSED",
	})
	l.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if e := entries[0]; e.CallID != "TC@7" || e.Type != "missed" || e.Cause != "MISSED" {
		t.Fatalf("unexpected entry %+v", e)
	}
}

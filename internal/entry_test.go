package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/granola-companion/internal/integration"
	"github.com/starford/granola-companion/internal/testutil"
)

func oneShotConfig(t *testing.T, files map[string]string) *Config {
	t.Helper()
	dir := t.TempDir()
	for p, c := range files {
		testutil.WriteFile(t, dir, p, c)
	}
	cfg := NewDefaultConfig()
	cfg.App.LogLevel = slog.LevelError
	cfg.Vault.Path = dir
	cfg.Vault.Watch = false
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "journal.db")
	cfg.Companion.GracePeriod = time.Millisecond
	return cfg
}

func TestRun_RequiresConfig(t *testing.T) {
	if err := RunStats(context.Background()); err == nil {
		t.Error("expected error without config")
	}
}

func TestRunStats(t *testing.T) {
	cfg := oneShotConfig(t, map[string]string{
		"a.md":              testutil.Note("k1", ""),
		"Archive/a.md":      testutil.Note("k1", ""),
		"b.md":              testutil.Note("k2", ""),
		"b - transcript.md": testutil.Note("k2", ""),
	})
	var out bytes.Buffer
	if err := RunStats(context.Background(), WithConfig(cfg), WithOutput(&out)); err != nil {
		t.Fatal(err)
	}
	var st integration.Stats
	if err := json.Unmarshal(out.Bytes(), &st); err != nil {
		t.Fatalf("output %q: %v", out.String(), err)
	}
	if st.DuplicateGroups != 1 || st.Duplicates[0].SyncKey != "k1" {
		t.Errorf("stats = %+v", st)
	}
}

func TestRunCleanup(t *testing.T) {
	files := map[string]string{
		"a.md":         testutil.Note("k1", ""),
		"Archive/a.md": testutil.Note("k1", ""),
	}
	cfg := oneShotConfig(t, files)

	if err := RunCleanup(context.Background(), false, WithConfig(cfg)); err == nil {
		t.Fatal("unconfirmed cleanup should fail")
	}

	var out bytes.Buffer
	if err := RunCleanup(context.Background(), true, WithConfig(cfg), WithOutput(&out)); err != nil {
		t.Fatal(err)
	}
	var res integration.CleanupResult
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("output %q: %v", out.String(), err)
	}
	if res.Deleted != 1 || len(res.Kept) != 1 || res.Kept[0] != "a.md" {
		t.Errorf("result = %+v", res)
	}

	out.Reset()
	if err := RunStats(context.Background(), WithConfig(cfg), WithOutput(&out)); err != nil {
		t.Fatal(err)
	}
	var st integration.Stats
	_ = json.Unmarshal(out.Bytes(), &st)
	if st.DuplicateGroups != 0 {
		t.Errorf("duplicates left after cleanup: %+v", st)
	}
}

package backup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/saiverse/memoryweave/internal/store"
)

func newTestRunner(t *testing.T) (*Runner, string) {
	t.Helper()
	tmp := t.TempDir()
	dbPath := filepath.Join(tmp, "memory.db")

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.UpsertThread(&store.Thread{ID: "p1:t", ResourceID: "p1", CreatedAt: 0, UpdatedAt: 0}); err != nil {
		t.Fatalf("upsert thread: %v", err)
	}

	cfg := Config{
		SimpleRoot:      filepath.Join(tmp, "simple"),
		IncrementalRoot: filepath.Join(tmp, "rdiff"),
		LockPath:        filepath.Join(tmp, "backup.lock"),
		LockWaitSec:     5,
		Keep:            2,
	}
	return NewRunner("p1", s, cfg, zerolog.Nop()), tmp
}

func TestRunSimpleCreatesBackup(t *testing.T) {
	r, _ := newTestRunner(t)

	result, err := r.Run(StrategySimple, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Skipped {
		t.Fatal("expected first backup to not be skipped")
	}
	if _, err := os.Stat(result.Path); err != nil {
		t.Fatalf("expected backup file to exist: %v", err)
	}
}

func TestRunSimpleSkipsUnchanged(t *testing.T) {
	r, _ := newTestRunner(t)

	first, err := r.Run(StrategySimple, false)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}

	second, err := r.Run(StrategySimple, false)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !second.Skipped {
		t.Fatal("expected second identical backup to be skipped")
	}
	if second.Path != first.Path {
		t.Fatalf("expected skip to report the prior backup path, got %s vs %s", second.Path, first.Path)
	}
}

func TestRunSimplePrunesOldBackups(t *testing.T) {
	r, _ := newTestRunner(t)
	s := r.db

	for i := 0; i < 4; i++ {
		if err := s.AppendMessage(&store.Message{ID: idFor(i), ThreadID: "p1:t", Role: "user", Content: idFor(i), CreatedAt: int64(i)}); err != nil {
			t.Fatalf("append message: %v", err)
		}
		if _, err := r.Run(StrategySimple, false); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	dir := filepath.Join(r.cfg.SimpleRoot, "p1")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) > r.cfg.Keep {
		t.Fatalf("expected at most %d backups retained, got %d", r.cfg.Keep, len(entries))
	}
}

func TestAutoFallsBackToSimpleWithoutExternalTool(t *testing.T) {
	r, _ := newTestRunner(t)
	r.cfg.ExternalTool = "definitely-not-a-real-backup-tool"

	result, err := r.Run(StrategyAuto, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Strategy != StrategySimple {
		t.Fatalf("expected fallback to simple, got %s", result.Strategy)
	}
}

func TestAcquireLockRecoversStaleLock(t *testing.T) {
	tmp := t.TempDir()
	lockPath := filepath.Join(tmp, "backup.lock")

	if err := os.WriteFile(lockPath, []byte("pid=999999 ts=2020-01-01T00:00:00Z"), 0o600); err != nil {
		t.Fatalf("write stale lock: %v", err)
	}

	release, err := acquireLock(lockPath, 2)
	if err != nil {
		t.Fatalf("expected stale lock to be recovered, got %v", err)
	}
	release()

	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Fatal("expected lock file removed after release")
	}
}

func idFor(i int) string {
	return "m" + string(rune('0'+i))
}

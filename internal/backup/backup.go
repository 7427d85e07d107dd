// Package backup implements the online-backup strategies of §4.12: a
// SQLite snapshot (the store's own Snapshot, §4.1) handed either to an
// external incremental-backup tool with generation rotation, or written as
// a timestamped file deduplicated by content hash. Grounded on
// original_source/sai_memory/backup.py.
package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/saiverse/memoryweave/internal/store"
	"github.com/saiverse/memoryweave/pkg/weaveerr"
)

// Strategy selects which of the two backup approaches to run.
type Strategy string

const (
	StrategySimple      Strategy = "simple"
	StrategyIncremental Strategy = "incremental"
	// StrategyAuto picks Incremental when an external tool is configured
	// and resolvable on PATH, else falls back to Simple.
	StrategyAuto Strategy = "auto"
)

// Result reports what a backup run produced.
type Result struct {
	Strategy Strategy
	Path     string
	Skipped  bool // true when Simple found the snapshot unchanged
}

// Config configures one persona's backup runner.
type Config struct {
	SimpleRoot      string // {saiverse_home}/backups/saimemory_simple
	IncrementalRoot string // {saiverse_home}/backups/saimemory_rdiff
	LockPath        string
	LockWaitSec     int
	Keep            int    // generations/files to retain
	ExternalTool    string // e.g. "rdiff-backup"; empty disables Incremental
}

// Runner backs up one persona's database.
type Runner struct {
	personaID string
	db        store.Storer
	cfg       Config
	log       zerolog.Logger
}

func NewRunner(personaID string, db store.Storer, cfg Config, log zerolog.Logger) *Runner {
	return &Runner{personaID: personaID, db: db, cfg: cfg, log: log}
}

// Run executes strategy under the global backup lock. forceFull only
// affects Incremental/Auto: it archives the existing repo and starts a
// fresh one before backing up, the way a caller recovers from a repo they
// believe is corrupt.
func (r *Runner) Run(strategy Strategy, forceFull bool) (*Result, error) {
	release, err := acquireLock(r.cfg.LockPath, r.cfg.LockWaitSec)
	if err != nil {
		return nil, err
	}
	defer release()

	switch strategy {
	case StrategySimple:
		return r.runSimple()
	case StrategyIncremental:
		return r.runIncremental(forceFull)
	case StrategyAuto:
		if r.cfg.ExternalTool != "" {
			if _, err := exec.LookPath(r.cfg.ExternalTool); err == nil {
				return r.runIncremental(forceFull)
			}
		}
		r.log.Info().Str("persona_id", r.personaID).Msg("external backup tool unavailable, using simple backup")
		return r.runSimple()
	default:
		return nil, weaveerr.Invalid("unknown backup strategy %q", strategy)
	}
}

func (r *Runner) snapshotToTemp(prefix string) (string, func(), error) {
	tmpdir, err := os.MkdirTemp("", prefix)
	if err != nil {
		return "", nil, weaveerr.TransientIO(err, "create snapshot tempdir")
	}
	cleanup := func() { os.RemoveAll(tmpdir) }

	snapshotPath := filepath.Join(tmpdir, "memory.db")
	if err := r.db.Snapshot(snapshotPath); err != nil {
		cleanup()
		return "", nil, err
	}
	return snapshotPath, cleanup, nil
}

func (r *Runner) runSimple() (*Result, error) {
	snapshotPath, cleanup, err := r.snapshotToTemp("weave_simple_")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	dir := filepath.Join(r.cfg.SimpleRoot, r.personaID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, weaveerr.TransientIO(err, "create simple backup dir %s", dir)
	}

	latest, err := latestSimpleBackup(dir)
	if err != nil {
		return nil, err
	}
	if latest != "" {
		same, err := sameContent(snapshotPath, latest)
		if err != nil {
			return nil, err
		}
		if same {
			r.log.Info().Str("persona_id", r.personaID).Str("backup", latest).Msg("simple backup skipped: unchanged")
			return &Result{Strategy: StrategySimple, Path: latest, Skipped: true}, nil
		}
	}

	dest := filepath.Join(dir, fmt.Sprintf("memory.db_backup_%s.bak", time.Now().UTC().Format("20060102_150405")))
	if err := copyFile(snapshotPath, dest); err != nil {
		return nil, err
	}

	if err := pruneSimpleBackups(dir, r.cfg.Keep); err != nil {
		r.log.Warn().Err(err).Msg("failed to prune old simple backups")
	}
	return &Result{Strategy: StrategySimple, Path: dest}, nil
}

func (r *Runner) runIncremental(forceFull bool) (*Result, error) {
	if r.cfg.ExternalTool == "" {
		return nil, weaveerr.Invalid("no external incremental backup tool configured")
	}
	repoDir := filepath.Join(r.cfg.IncrementalRoot, r.personaID)
	if err := os.MkdirAll(repoDir, 0o755); err != nil {
		return nil, weaveerr.TransientIO(err, "create incremental backup dir %s", repoDir)
	}

	if forceFull {
		if err := rotateRepo(repoDir); err != nil {
			return nil, err
		}
		if err := pruneArchives(repoDir, r.cfg.Keep); err != nil {
			r.log.Warn().Err(err).Msg("failed to prune old archives")
		}
	}

	snapshotPath, cleanup, err := r.snapshotToTemp("weave_incremental_")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	cmd := exec.Command(r.cfg.ExternalTool, "backup", "--preserve-numerical-ids", filepath.Dir(snapshotPath), repoDir)
	out, runErr := cmd.CombinedOutput()
	if runErr != nil {
		if looksCorrupt(string(out)) {
			r.log.Warn().Str("persona_id", r.personaID).Msg("incremental backup looks corrupt, rotating and retrying once")
			if err := rotateRepo(repoDir); err != nil {
				return nil, err
			}
			cmd = exec.Command(r.cfg.ExternalTool, "backup", "--preserve-numerical-ids", filepath.Dir(snapshotPath), repoDir)
			out, runErr = cmd.CombinedOutput()
		}
		if runErr != nil {
			return nil, weaveerr.TransientIO(runErr, "incremental backup failed: %s", truncate(string(out), 400))
		}
	}

	if err := pruneArchives(repoDir, r.cfg.Keep); err != nil {
		r.log.Warn().Err(err).Msg("failed to prune old archives")
	}
	return &Result{Strategy: StrategyIncremental, Path: repoDir}, nil
}

func looksCorrupt(output string) bool {
	signals := []string{"current mirror", "current_mirror", "previous backup seems to have failed", "not in the past"}
	low := strings.ToLower(output)
	for _, s := range signals {
		if strings.Contains(low, s) {
			return true
		}
	}
	return false
}

func rotateRepo(repoDir string) error {
	timestamp := time.Now().UTC().Format("20060102-150405")
	archived := repoDir + ".archived." + timestamp
	os.RemoveAll(archived)
	if _, err := os.Stat(repoDir); err == nil {
		if err := os.Rename(repoDir, archived); err != nil {
			return weaveerr.TransientIO(err, "rotate backup repo %s", repoDir)
		}
	}
	return os.MkdirAll(repoDir, 0o755)
}

func pruneArchives(repoDir string, keep int) error {
	parent := filepath.Dir(repoDir)
	stem := filepath.Base(repoDir) + ".archived."
	entries, err := os.ReadDir(parent)
	if err != nil {
		return weaveerr.TransientIO(err, "list archives in %s", parent)
	}
	var archives []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), stem) {
			archives = append(archives, filepath.Join(parent, e.Name()))
		}
	}
	return pruneOldest(archives, keep, os.RemoveAll)
}

func latestSimpleBackup(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", weaveerr.TransientIO(err, "list simple backups in %s", dir)
	}
	var backups []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "memory.db_backup_") {
			backups = append(backups, filepath.Join(dir, e.Name()))
		}
	}
	if len(backups) == 0 {
		return "", nil
	}
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))
	return backups[0], nil
}

func pruneSimpleBackups(dir string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return weaveerr.TransientIO(err, "list simple backups in %s", dir)
	}
	var backups []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "memory.db_backup_") {
			backups = append(backups, filepath.Join(dir, e.Name()))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))
	return pruneOldest(backups, keep, func(p string) error { return os.Remove(p) })
}

func pruneOldest(paths []string, keep int, remove func(string) error) error {
	if keep <= 0 || len(paths) <= keep {
		return nil
	}
	for _, p := range paths[keep:] {
		if err := remove(p); err != nil {
			return weaveerr.TransientIO(err, "prune %s", p)
		}
	}
	return nil
}

func sameContent(a, b string) (bool, error) {
	ha, err := fileHash(a)
	if err != nil {
		return false, err
	}
	hb, err := fileHash(b)
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}

func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", weaveerr.TransientIO(err, "open %s", path)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", weaveerr.TransientIO(err, "hash %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return weaveerr.TransientIO(err, "open %s", src)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return weaveerr.TransientIO(err, "create %s", dst)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return weaveerr.TransientIO(err, "copy to %s", dst)
	}
	return out.Close()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}


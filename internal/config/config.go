// Package config holds the tunable, environment-sourced settings shared by
// the Memory Weave components. It follows the teacher's plain-struct style
// (batch.Config, ExtractorConfig) rather than pulling in a config library.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config aggregates every tunable used across Store, Chunker, Recall,
// Chronicle and Backup. Zero value is not valid; use Load or Default.
type Config struct {
	// SAIVerseHome is the root under which per-persona directories live:
	// {SAIVerseHome}/personas/{persona_id}/memory.db
	SAIVerseHome string

	// Chunker bounds (§4.3).
	ChunkMinChars int
	ChunkMaxChars int

	// Chronicle generator defaults (§4.6).
	ChronicleBatchSize        int
	ChronicleConsolidationSize int
	ChronicleIncludeTimestamp bool

	// Recall defaults (§4.5).
	RecallTopK        int
	RecallRangeBefore int
	RecallRangeAfter  int

	// Memopedia generator defaults (§4.9).
	MemopediaMaxLoops      int
	MemopediaContextWindow int

	// Store pragmas (§4.1).
	BusyTimeout time.Duration

	// Backup (§4.12).
	BackupGenerations int
	BackupLockWaitSec int

	// HuggingFace-like model cache dir for the Embedder wrapper (§4.2).
	ModelCacheDir string
}

// Default returns the engine's built-in defaults, matching the values named
// explicitly in the design (batch_size=20, consolidation_size=10,
// min_chars=120, max_chars=480).
func Default() Config {
	return Config{
		SAIVerseHome:               "./saiverse_home",
		ChunkMinChars:              120,
		ChunkMaxChars:              480,
		ChronicleBatchSize:         20,
		ChronicleConsolidationSize: 10,
		ChronicleIncludeTimestamp:  true,
		RecallTopK:                 5,
		RecallRangeBefore:          1,
		RecallRangeAfter:           1,
		MemopediaMaxLoops:          5,
		MemopediaContextWindow:     3,
		BusyTimeout:                5 * time.Second,
		BackupGenerations:          5,
		BackupLockWaitSec:          10,
		ModelCacheDir:              "./model_cache",
	}
}

// Load overlays environment variables onto Default(). Unset variables keep
// the default; malformed numeric/bool values are ignored (default wins).
func Load() Config {
	c := Default()

	if v := os.Getenv("WEAVE_HOME"); v != "" {
		c.SAIVerseHome = v
	}
	if v := os.Getenv("WEAVE_MODEL_CACHE_DIR"); v != "" {
		c.ModelCacheDir = v
	}
	if v, ok := envInt("WEAVE_CHUNK_MIN_CHARS"); ok {
		c.ChunkMinChars = v
	}
	if v, ok := envInt("WEAVE_CHUNK_MAX_CHARS"); ok {
		c.ChunkMaxChars = v
	}
	if v, ok := envInt("WEAVE_CHRONICLE_BATCH_SIZE"); ok {
		c.ChronicleBatchSize = v
	}
	if v, ok := envInt("WEAVE_CHRONICLE_CONSOLIDATION_SIZE"); ok {
		c.ChronicleConsolidationSize = v
	}
	if v, ok := envBool("WEAVE_CHRONICLE_INCLUDE_TIMESTAMP"); ok {
		c.ChronicleIncludeTimestamp = v
	}
	if v, ok := envInt("WEAVE_RECALL_TOPK"); ok {
		c.RecallTopK = v
	}
	if v, ok := envInt("WEAVE_MEMOPEDIA_MAX_LOOPS"); ok {
		c.MemopediaMaxLoops = v
	}
	if v, ok := envInt("WEAVE_MEMOPEDIA_CONTEXT_WINDOW"); ok {
		c.MemopediaContextWindow = v
	}
	if v, ok := envInt("WEAVE_BACKUP_GENERATIONS"); ok {
		c.BackupGenerations = v
	}
	if v, ok := envInt("WEAVE_BACKUP_LOCK_WAIT_SEC"); ok {
		c.BackupLockWaitSec = v
	}
	return c
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

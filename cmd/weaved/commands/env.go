package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/saiverse/memoryweave/internal/chronicle"
	"github.com/saiverse/memoryweave/internal/config"
	"github.com/saiverse/memoryweave/internal/embedder"
	"github.com/saiverse/memoryweave/internal/memopedia"
	"github.com/saiverse/memoryweave/internal/message"
	"github.com/saiverse/memoryweave/internal/recall"
	"github.com/saiverse/memoryweave/internal/store"
	"github.com/saiverse/memoryweave/pkg/llm"
)

// personaEnv bundles every component a command needs against one persona's
// store, wired from the global --home/--persona/--llm-model flags.
type personaEnv struct {
	cfg       config.Config
	db        *store.SQLiteStore
	llmClient llm.Client
	embedder  *embedder.Wrapper
	messages  *message.Service
	recall    *recall.Engine
	assembler *chronicle.Assembler
	chronicle *chronicle.Generator
	memopedia *memopedia.Engine
	research  *memopedia.Generator
	log       zerolog.Logger
}

func (e *personaEnv) close() {
	if e.db != nil {
		_ = e.db.Close()
	}
}

// openPersona resolves {home}/personas/{persona}/memory.db, opening (and
// creating, if absent) the SQLite store, then wires the LLM client,
// embedder, and the generator/engine components on top of it.
func openPersona() (*personaEnv, error) {
	if flagPersonaID == "" {
		return nil, fmt.Errorf("--persona is required")
	}

	cfg := config.Load()
	home := flagHome
	if home == "" {
		home = cfg.SAIVerseHome
	}
	dbPath := filepath.Join(home, "personas", flagPersonaID, "memory.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create persona directory: %w", err)
	}

	level := zerolog.InfoLevel
	if flagVerbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Str("persona", flagPersonaID).Logger()

	db, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		db.Close()
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable is required")
	}

	embedModel := flagEmbedModel
	if embedModel == "" {
		embedModel = string(openai.SmallEmbedding3)
	}
	backendEmbedder := llm.NewOpenAIEmbedder(apiKey, flagBaseURL, openai.EmbeddingModel(embedModel), 1536)
	wrappedEmbedder := embedder.NewWrapper(embedder.Key{ModelName: embedModel}, backendEmbedder, log)

	llmClient := llm.NewOpenAIClient(apiKey, flagBaseURL, flagLLMModel, log, nil)

	messages := message.NewService(db, wrappedEmbedder, cfg.ChunkMinChars, cfg.ChunkMaxChars, log)
	recallEngine := recall.NewEngine(db, wrappedEmbedder, log)
	assembler := chronicle.NewAssembler(db)

	chronicleCfg := chronicle.Config{
		BatchSize:         cfg.ChronicleBatchSize,
		ConsolidationSize: cfg.ChronicleConsolidationSize,
		IncludeTimestamp:  cfg.ChronicleIncludeTimestamp,
	}
	chronicleGen := chronicle.NewGenerator(db, llmClient, chronicleCfg, nil, log)

	memopediaEngine := memopedia.NewEngine(db)
	researchCfg := memopedia.DefaultGeneratorConfig()
	researchCfg.MaxLoops = cfg.MemopediaMaxLoops
	researchCfg.ContextWindow = cfg.MemopediaContextWindow
	researchGen := memopedia.NewGenerator(memopediaEngine, recallEngine, assembler, llmClient, researchCfg, nil, log)

	return &personaEnv{
		cfg:       cfg,
		db:        db,
		llmClient: llmClient,
		embedder:  wrappedEmbedder,
		messages:  messages,
		recall:    recallEngine,
		assembler: assembler,
		chronicle: chronicleGen,
		memopedia: memopediaEngine,
		research:  researchGen,
		log:       log,
	}, nil
}

// Package engine orchestrates deal memory: event extraction from completed
// interactions, snapshot synthesis, context assembly for consuming agents,
// the commitment lifecycle, and relationship-strength decay.
//
// Failure policy throughout: degraded inputs (unreachable retrieval, bad LLM
// JSON, a failed chunk insert) are logged and absorbed; the engine returns
// partial results rather than errors. Only construction-time misconfiguration
// surfaces as an error to callers.
package engine

import (
	"log/slog"

	"github.com/pipewise/dealmem/internal/config"
	"github.com/pipewise/dealmem/internal/llm"
	"github.com/pipewise/dealmem/internal/metrics"
	"github.com/pipewise/dealmem/internal/retrieval"
	"github.com/pipewise/dealmem/internal/store"
)

// Engine wires the store, LLM, and retrieval service together. One Engine
// serves one logical run or process; its metrics collector and the retrieval
// client's cache live exactly that long.
type Engine struct {
	DB        *store.DB
	LLM       llm.Client
	Retrieval retrieval.Service
	Metrics   *metrics.Collector
	Log       *slog.Logger
	Cfg       config.EngineConfig
}

// New creates an Engine. Zero-valued tunables in cfg fall back to the
// packaged defaults, so tests can pass config.EngineConfig{} and still get
// sane thresholds.
func New(db *store.DB, client llm.Client, retr retrieval.Service, cfg config.EngineConfig, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		DB:        db,
		LLM:       client,
		Retrieval: retr,
		Metrics:   metrics.NewCollector(),
		Log:       log,
		Cfg:       normalize(cfg),
	}
}

func normalize(cfg config.EngineConfig) config.EngineConfig {
	def := config.Default().Engine
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = def.ConfidenceThreshold
	}
	if cfg.DedupWindowDays <= 0 {
		cfg.DedupWindowDays = def.DedupWindowDays
	}
	if cfg.SnapshotEventThreshold <= 0 {
		cfg.SnapshotEventThreshold = def.SnapshotEventThreshold
	}
	if cfg.SnapshotMaxAgeDays <= 0 {
		cfg.SnapshotMaxAgeDays = def.SnapshotMaxAgeDays
	}
	if cfg.SnapshotEventLimit <= 0 {
		cfg.SnapshotEventLimit = def.SnapshotEventLimit
	}
	if cfg.ContextEventLimit <= 0 {
		cfg.ContextEventLimit = def.ContextEventLimit
	}
	if cfg.ContextWindowDays <= 0 {
		cfg.ContextWindowDays = def.ContextWindowDays
	}
	if cfg.ContextTokenBudget <= 0 {
		cfg.ContextTokenBudget = def.ContextTokenBudget
	}
	if cfg.InsertChunkSize <= 0 {
		cfg.InsertChunkSize = def.InsertChunkSize
	}
	if cfg.DecayBatchSize <= 0 {
		cfg.DecayBatchSize = def.DecayBatchSize
	}
	return cfg
}

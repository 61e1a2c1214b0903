package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pipewise/dealmem/internal/config"
	"github.com/pipewise/dealmem/internal/engine"
	"github.com/pipewise/dealmem/internal/llm"
	"github.com/pipewise/dealmem/internal/retrieval"
	"github.com/pipewise/dealmem/internal/store"
)

var (
	cfgFile string
	orgFlag string
)

var rootCmd = &cobra.Command{
	Use:   "dealmem",
	Short: "Structured deal memory for sales agents",
	Long: "Dealmem distills sales interactions into typed deal events, rolling\n" +
		"snapshots and relationship memory, so agents read compact context\n" +
		"instead of raw transcripts.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ~/.dealmem/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&orgFlag, "org", "", "Organization id (default $DEALMEM_ORG)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(commitmentsCmd)
	rootCmd.AddCommand(decayCmd)
}

// resolveOrg returns the effective organization id: the --org flag, then the
// DEALMEM_ORG environment variable.
func resolveOrg() (string, error) {
	if orgFlag != "" {
		return orgFlag, nil
	}
	if v := os.Getenv("DEALMEM_ORG"); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("organization id required: set --org or DEALMEM_ORG")
}

// newEngine wires config, logging, store and the remote collaborators for one
// invocation. requireLLM makes a missing LLM configuration fatal instead of a
// warning; retrieval is always optional and its absence degrades inside the
// engine.
func newEngine(requireLLM bool) (*engine.Engine, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	log, closeLog := config.SetupLogger(cfg.Log)

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			closeLog()
			return nil, nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		closeLog()
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	cleanup := func() {
		db.Close()
		closeLog()
	}

	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		if requireLLM {
			cleanup()
			return nil, nil, fmt.Errorf("llm not configured: %w", err)
		}
		log.Warn("llm not configured, synthesis disabled", "error", err)
	}

	var retr retrieval.Service
	if cfg.Retrieval.Endpoint != "" {
		client, rerr := retrieval.New(cfg.Retrieval, log)
		if rerr != nil {
			log.Warn("retrieval client init failed", "error", rerr)
		} else {
			retr = client
		}
	}

	return engine.New(db, llmClient, retr, cfg.Engine, log), cleanup, nil
}

func millisTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

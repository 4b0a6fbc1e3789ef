package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mnemo/internal/chunker"
	"mnemo/internal/chunker/languages"
	"mnemo/internal/config"
	"mnemo/internal/embedsvc"
	"mnemo/internal/kb"
	"mnemo/internal/logging"
	"mnemo/internal/store"
)

var (
	flagProject string
	flagOllama  string
	flagModel   string
	flagDebug   bool
)

var rootCmd = &cobra.Command{
	Use:   "mnemo",
	Short: "Local semantic knowledge base over a source tree",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagProject, "project", ".", "project root")
	rootCmd.PersistentFlags().StringVar(&flagOllama, "ollama", "", "ollama base URL (default from config)")
	rootCmd.PersistentFlags().StringVar(&flagModel, "model", "", "embedding model (default from config)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "verbose console logging")
}

// loadConfig resolves the project root and layers flag overrides on top of
// <project>/.mnemo/config.yaml.
func loadConfig() (string, *config.Config, error) {
	root, err := filepath.Abs(flagProject)
	if err != nil {
		return "", nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return "", nil, err
	}
	if flagOllama != "" {
		cfg.Embedding.OllamaURL = flagOllama
	}
	if flagModel != "" {
		cfg.Embedding.Model = flagModel
	}
	if flagDebug {
		cfg.Logging.Debug = true
	}
	return root, cfg, nil
}

// openStore assembles the whole pipeline: vector collection, chunker,
// embedding service manager, and the knowledge-base store on top. Callers
// must Close the returned store.
func openStore(name string) (*kb.Store, *zap.Logger, error) {
	root, cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(config.Dir(root), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create state dir: %w", err)
	}
	log, err := logging.New(root, name, cfg.Logging)
	if err != nil {
		return nil, nil, err
	}

	col, err := store.Open(filepath.Join(config.Dir(root), "index.db"), cfg.Embedding.Dimensions)
	if err != nil {
		return nil, nil, fmt.Errorf("open index: %w", err)
	}

	var runner chunker.Runner
	if cfg.Chunking.ToolEnabled && len(cfg.Chunking.ToolCommand) > 0 {
		runner = &chunker.CommandRunner{
			Command: cfg.Chunking.ToolCommand,
			Timeout: time.Duration(cfg.Chunking.ToolTimeoutSeconds) * time.Second,
		}
	}
	ch := chunker.New(chunker.OptionsFromConfig(cfg.Chunking), languages.DefaultRegistry(), runner, log)

	manager := embedsvc.NewManager(root, cfg.Embedding, log)

	s, err := kb.Open(root, cfg, col, ch, manager, log)
	if err != nil {
		col.Close()
		return nil, nil, err
	}
	return s, log, nil
}

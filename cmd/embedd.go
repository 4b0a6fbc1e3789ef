package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mnemo/internal/embedder"
	"mnemo/internal/embedsvc"
	"mnemo/internal/logging"
)

var (
	flagHost string
	flagPort int
)

// embeddCmd is the embedding service entrypoint. It is normally spawned
// detached by the service manager rather than run by hand.
var embeddCmd = &cobra.Command{
	Use:    "embedd",
	Short:  "Run the embedding service",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := logging.New(root, "embedd", cfg.Logging)
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		model, err := embedsvc.ResolveModel(ctx, cfg.Embedding.OllamaURL,
			cfg.Embedding.Model, cfg.Embedding.FallbackModel, log)
		if err != nil {
			return err
		}

		srv := embedsvc.NewServer(model, embedder.NewOllama(cfg.Embedding.OllamaURL, model), log)
		return srv.ListenAndServe(ctx, flagHost, flagPort)
	},
}

func init() {
	embeddCmd.Flags().StringVar(&flagHost, "host", "127.0.0.1", "bind address")
	embeddCmd.Flags().IntVar(&flagPort, "port", 0, "listen port (0 picks a free port)")
	rootCmd.AddCommand(embeddCmd)
}

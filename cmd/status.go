package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"mnemo/internal/embedsvc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show knowledge-base state for the project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, log, err := openStore("mnemo")
		if err != nil {
			return err
		}
		defer s.Close()
		defer log.Sync()

		m := s.Manifest()
		fmt.Println(titleStyle.Render("Knowledge base"))
		fmt.Printf("  Files indexed:  %d\n", len(m.Files))
		if m.Embedding.Model != "" {
			fmt.Printf("  Embedding:      %s (%s)\n", m.Embedding.Model, m.Embedding.Provider)
		}
		if !m.LastScanAt.IsZero() {
			fmt.Printf("  Last scan:      %s\n", m.LastScanAt.Local().Format("2006-01-02 15:04:05"))
		}
		if !m.LastCompactAt.IsZero() {
			fmt.Printf("  Last compact:   %s\n", m.LastCompactAt.Local().Format("2006-01-02 15:04:05"))
		}
		if n, err := s.EventCount(); err == nil {
			fmt.Printf("  Pending events: %d\n", n)
		}

		printServiceStatus(cmd.Context())
		return nil
	},
}

// printServiceStatus reports on the embedding service without starting one.
func printServiceStatus(ctx context.Context) {
	root, cfg, err := loadConfig()
	if err != nil {
		return
	}
	info, err := embedsvc.Probe(ctx, root, cfg.Embedding)
	if err != nil || info == nil {
		fmt.Println(dimStyle.Render("  Embed service:  not running"))
		return
	}
	fmt.Println(successStyle.Render(fmt.Sprintf("  Embed service:  pid %d on %s:%d (model %s)",
		info.PID, info.Host, info.Port, info.Model)))
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

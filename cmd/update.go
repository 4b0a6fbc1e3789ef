package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mnemo/internal/kb"
)

var (
	flagWriter string
	flagChange string
	flagTask   string
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Scan the project and bring the knowledge base up to date",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, log, err := openStore("mnemo")
		if err != nil {
			return err
		}
		defer s.Close()
		defer log.Sync()

		fmt.Println(titleStyle.Render("Updating knowledge base..."))
		start := time.Now()

		stats, err := s.Update(cmd.Context(), kb.Attribution{
			Writer: flagWriter,
			Change: flagChange,
			Task:   flagTask,
		})
		if err != nil {
			return err
		}
		elapsed := time.Since(start)

		fmt.Println(successStyle.Render(fmt.Sprintf("Done in %s", elapsed.Round(time.Millisecond))))
		fmt.Printf("  Files:   %d scanned, %d added, %d changed, %d removed\n",
			stats.Report.Scanned, stats.FilesAdded, stats.FilesChanged, stats.FilesRemoved)
		fmt.Printf("  Chunks:  %d written\n", stats.ChunksWritten)
		if stats.Fallbacks > 0 {
			fmt.Println(warnStyle.Render(fmt.Sprintf("  %d file(s) chunked via fallback", stats.Fallbacks)))
		}
		if stats.Report.Binary > 0 || stats.Report.TooLarge > 0 {
			fmt.Println(dimStyle.Render(fmt.Sprintf("  Skipped: %d binary, %d over size limit",
				stats.Report.Binary, stats.Report.TooLarge)))
		}
		return nil
	},
}

func init() {
	updateCmd.Flags().StringVar(&flagWriter, "writer", "", "who is making this update")
	updateCmd.Flags().StringVar(&flagChange, "change", "", "change identifier to attribute")
	updateCmd.Flags().StringVar(&flagTask, "task", "", "task identifier to attribute")
	rootCmd.AddCommand(updateCmd)
}

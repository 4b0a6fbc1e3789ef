package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Snapshot the event log and truncate it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, log, err := openStore("mnemo")
		if err != nil {
			return err
		}
		defer s.Close()
		defer log.Sync()

		snap, err := s.Compact()
		if err != nil {
			return err
		}
		fmt.Println(successStyle.Render("Compacted event log"))
		fmt.Printf("  Snapshot: %s\n", snap)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(compactCmd)
}

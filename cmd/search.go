package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var flagTopK int

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")

		s, log, err := openStore("mnemo")
		if err != nil {
			return err
		}
		defer s.Close()
		defer log.Sync()

		hits, err := s.Search(cmd.Context(), query, flagTopK)
		if err != nil {
			return err
		}
		if len(hits) == 0 {
			fmt.Println(dimStyle.Render("No results."))
			return nil
		}

		for i, hit := range hits {
			loc := hit.Metadata["source_path"]
			if start := hit.Metadata["start_line"]; start != "" && start != "0" {
				loc = fmt.Sprintf("%s:%s-%s", loc, start, hit.Metadata["end_line"])
			}
			fmt.Printf("%s %s %s\n",
				titleStyle.Render(fmt.Sprintf("%d.", i+1)),
				loc,
				dimStyle.Render(fmt.Sprintf("(distance %.4f)", hit.Distance)))
			if summary := hit.Metadata["summary"]; summary != "" {
				fmt.Printf("   %s\n", summary)
			}
			fmt.Println(dimStyle.Render(indent(snippet(hit.Document, 6), "   ")))
		}
		return nil
	},
}

// snippet returns at most n lines of a document.
func snippet(doc string, n int) string {
	lines := strings.Split(strings.TrimRight(doc, "\n"), "\n")
	if len(lines) > n {
		lines = append(lines[:n], "...")
	}
	return strings.Join(lines, "\n")
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = prefix + lines[i]
	}
	return strings.Join(lines, "\n")
}

func init() {
	searchCmd.Flags().IntVarP(&flagTopK, "top", "k", 5, "number of results")
	rootCmd.AddCommand(searchCmd)
}

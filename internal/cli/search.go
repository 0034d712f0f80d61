package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search frames by keyword",
		Long:  "Full-text search over frame content, ranked by relevance; ties break toward the most recent frame.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().IntP("limit", "l", 20, "Max results")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	query := strings.Join(args, " ")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	hits, err := s.Search(cmd.Context(), query, limit)
	if err != nil {
		exitErr("search", err)
	}

	if formatFlag == "text" {
		for _, h := range hits {
			fmt.Printf("#%d %s [%s] %.2f %s\n", h.Position, h.ID, h.Kind, h.Score, h.VectorKey)
		}
		return
	}

	if len(hits) == 0 {
		fmt.Println("[]")
		return
	}
	b, _ := json.MarshalIndent(hits, "", "  ")
	fmt.Println(string(b))
}

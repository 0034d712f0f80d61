package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tracevault/tracevault/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "List committed frames",
		Long:  "Walk the log forward from a position, skipping and counting corrupt records.",
		Run:   runLog,
	}

	cmd.Flags().Uint64("from", 0, "Start position")
	cmd.Flags().IntP("limit", "l", 50, "Max frames")

	RootCmd.AddCommand(cmd)
}

func runLog(cmd *cobra.Command, args []string) {
	from, _ := cmd.Flags().GetUint64("from")
	limit, _ := cmd.Flags().GetInt("limit")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	type entry struct {
		Position uint64       `json:"position"`
		Frame    *model.Frame `json:"frame"`
	}

	var entries []entry
	it := s.Iterate(from)
	for len(entries) < limit {
		f, pos, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			exitErr("log", err)
		}
		entries = append(entries, entry{Position: pos, Frame: f})
	}

	if formatFlag == "text" {
		for _, e := range entries {
			fmt.Printf("#%d [%s] %s\n", e.Position, e.Frame.Kind, e.Frame.VectorKey())
		}
		if n := it.Skipped(); n > 0 {
			fmt.Printf("(%d corrupt records skipped)\n", n)
		}
		return
	}

	out := map[string]any{"frames": entries, "skipped": it.Skipped()}
	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}

package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Archive full segments",
		Long:  "Fold every full, not-yet-archived segment of frames into immutable archive blocks.",
		Run:   runCompact,
	}

	RootCmd.AddCommand(cmd)
}

func runCompact(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	blocks, err := s.Compact(cmd.Context())
	if err != nil {
		exitErr("compact", err)
	}

	if formatFlag == "text" {
		if len(blocks) == 0 {
			fmt.Println("nothing to compact")
			return
		}
		for _, b := range blocks {
			fmt.Printf("%s (%d-%d)\n", b.Path, b.FirstPos, b.LastPos)
		}
		return
	}

	if len(blocks) == 0 {
		fmt.Println("[]")
		return
	}
	b, _ := json.MarshalIndent(blocks, "", "  ")
	fmt.Println(string(b))
}

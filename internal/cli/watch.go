package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the live tail",
		Long:  "Stream frames as they are committed, until interrupted.",
		Run:   runWatch,
	}

	cmd.Flags().Uint64("from", 0, "Start position (default: current tail)")
	cmd.Flags().Bool("replay", false, "Start from position 0 instead of the tail")

	RootCmd.AddCommand(cmd)
}

func runWatch(cmd *cobra.Command, args []string) {
	from, _ := cmd.Flags().GetUint64("from")
	replay, _ := cmd.Flags().GetBool("replay")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	if !replay && !cmd.Flags().Changed("from") {
		from = s.Len()
	}

	ch, err := s.Watch(cmd.Context(), from)
	if err != nil {
		exitErr("watch", err)
	}

	for f := range ch {
		if formatFlag == "text" {
			fmt.Printf("[%s] %s\n", f.Kind, f.VectorKey())
			continue
		}
		b, _ := json.Marshal(f)
		fmt.Println(string(b))
	}
}

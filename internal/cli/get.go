package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get [position|id]",
		Short: "Fetch one frame",
		Long:  "Fetch a frame by log position or frame id, with its causal ancestors and children.",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	var pos uint64
	if n, perr := strconv.ParseUint(args[0], 10, 64); perr == nil && n < s.Len() {
		pos = n
	} else if p, ok := s.Position(args[0]); ok {
		pos = p
	} else {
		exitErr("get", fmt.Errorf("no frame at position or id %q", args[0]))
	}

	f, err := s.Read(pos)
	if err != nil {
		exitErr("get", err)
	}

	ancestors, _ := s.AncestorsOf(f.ID)
	out := map[string]any{
		"position":  pos,
		"frame":     f,
		"ancestors": ancestors,
		"children":  s.ChildrenOf(f.ID),
	}

	if formatFlag == "text" {
		fmt.Printf("#%d [%s] %s\n", pos, f.Kind, f.VectorKey())
		return
	}
	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tracevault/tracevault/internal/model"
	"github.com/tracevault/tracevault/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "record [text]",
		Short: "Record a frame",
		Long:  "Record one frame. Text can be a positional arg or piped via stdin.",
		Run:   runRecord,
	}

	cmd.Flags().StringP("kind", "k", "thought", "Kind: input, thought, tool_call, done, error")
	cmd.Flags().String("input", "", "Content input field")
	cmd.Flags().String("output", "", "Content output field")
	cmd.Flags().String("reasoning", "", "Content reasoning field")
	cmd.Flags().String("caused-by", "", "Id of the frame that prompted this one")
	cmd.Flags().String("success", "", "Outcome: true or false (defaults by kind)")
	cmd.Flags().StringSliceP("artifacts", "a", nil, "Artifact references, e.g. file paths")
	cmd.Flags().StringToString("meta", nil, "Metadata key=value pairs")
	cmd.Flags().String("session", "", "Session id (default: a fresh one)")
	cmd.Flags().String("actor", "", "Actor as type:id, e.g. agent:planner")

	RootCmd.AddCommand(cmd)
}

func runRecord(cmd *cobra.Command, args []string) {
	kind, _ := cmd.Flags().GetString("kind")
	input, _ := cmd.Flags().GetString("input")
	output, _ := cmd.Flags().GetString("output")
	reasoning, _ := cmd.Flags().GetString("reasoning")
	causedBy, _ := cmd.Flags().GetString("caused-by")
	successStr, _ := cmd.Flags().GetString("success")
	artifacts, _ := cmd.Flags().GetStringSlice("artifacts")
	meta, _ := cmd.Flags().GetStringToString("meta")
	session, _ := cmd.Flags().GetString("session")
	actorStr, _ := cmd.Flags().GetString("actor")

	// Text: positional arg first, then stdin
	var text string
	if len(args) > 0 {
		text = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			text = strings.TrimSpace(string(b))
		}
	}

	var success *bool
	switch successStr {
	case "":
	case "true":
		t := true
		success = &t
	case "false":
		f := false
		success = &f
	default:
		exitErr("record", fmt.Errorf("invalid --success %q (use true or false)", successStr))
	}

	var actor *model.Actor
	if actorStr != "" {
		typ, id, ok := strings.Cut(actorStr, ":")
		if !ok {
			exitErr("record", fmt.Errorf("invalid --actor %q (use type:id)", actorStr))
		}
		actor = &model.Actor{Type: model.ActorType(typ), ID: id}
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	if session != "" {
		s.StartSession(session)
	}

	id, pos, err := s.Record(cmd.Context(), store.RecordParams{
		Kind:      model.Kind(kind),
		Content:   model.Content{Text: text, Input: input, Output: output, Reasoning: reasoning},
		Actor:     actor,
		Metadata:  meta,
		Success:   success,
		Artifacts: artifacts,
		CausedBy:  causedBy,
	})
	var cv *store.CausalityViolation
	if err != nil {
		// A rejected relation still commits the frame; report and continue.
		if !errors.As(err, &cv) {
			exitErr("record", err)
		}
		fmt.Fprintf(os.Stderr, "warning: %v\n", cv)
	}

	out := map[string]any{"id": id, "position": pos, "session_id": s.SessionID()}
	if cv != nil {
		out["causality_violation"] = cv.Error()
	}
	if formatFlag == "text" {
		fmt.Printf("%s @ %d\n", id, pos)
		return
	}
	b, _ := json.Marshal(out)
	fmt.Println(string(b))
}

package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify log integrity",
		Long:  "Replay the entire log against the integrity manifest, reporting any tampering or truncation. Exits non-zero on failure.",
		Run:   runVerify,
	}

	RootCmd.AddCommand(cmd)
}

func runVerify(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	report, err := s.Verify(cmd.Context())
	if err != nil {
		exitErr("verify", err)
	}

	if formatFlag == "text" {
		if report.OK {
			fmt.Printf("ok: %d frames verified\n", report.FramesVerified)
		} else {
			fmt.Printf("FAILED: %s at position %d: %s\n",
				report.Failure.Kind, report.Failure.Position, report.Failure.Detail)
		}
	} else {
		b, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(b))
	}

	if !report.OK {
		s.Close()
		os.Exit(1)
	}
}

package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/altimation/controlsuite/internal/util"
	"github.com/altimation/controlsuite/strength"
)

var strengthCmd = &cobra.Command{
	Use:   "strength",
	Short: "Score a passphrase without encrypting anything",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pass, err := getPassphrase(cmd.ErrOrStderr(), "Passphrase: ")
		if err != nil {
			return err
		}
		defer util.WipeBytes(pass)

		report := strength.Evaluate(string(pass))
		if cfg.GetBool("json") {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(report)
		}
		printReport(cmd.OutOrStdout(), report)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(strengthCmd)
	strengthCmd.Flags().Bool("json", false, "Print the report as JSON")
}

func printReport(w io.Writer, r strength.Report) {
	verdict := color.GreenString("acceptable")
	if !r.Valid {
		verdict = color.RedString("weak")
	}
	fmt.Fprintf(w, "Passphrase strength: %d (%s)\n", r.Score, verdict)
	for _, remark := range r.Feedback {
		fmt.Fprintf(w, "  - %s\n", color.YellowString(remark))
	}
}

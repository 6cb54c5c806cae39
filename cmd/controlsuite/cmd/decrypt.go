package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/altimation/controlsuite/envelope"
	"github.com/altimation/controlsuite/internal/util"
)

var decryptCmd = &cobra.Command{
	Use:   "decrypt",
	Short: "Recover the configuration sealed in an envelope",
	Args:  cobra.NoArgs,
	RunE:  runDecrypt,
}

func init() {
	rootCmd.AddCommand(decryptCmd)
	f := decryptCmd.Flags()
	f.StringP("in", "i", "", "Envelope file to read (default stdin)")
	f.StringP("out", "o", "", "Configuration file to write (default stdout)")
}

func runDecrypt(cmd *cobra.Command, args []string) error {
	data, err := readInput(cmd, cfg.GetString("in"))
	if err != nil {
		return err
	}
	env, err := envelope.Parse(data)
	if err != nil {
		return err
	}

	pass, err := getPassphrase(cmd.ErrOrStderr(), "Passphrase: ")
	if err != nil {
		return err
	}
	defer util.WipeBytes(pass)

	doc, err := envelope.New().Decrypt(cmd.Context(), env, string(pass))
	if err != nil {
		if envelope.KindOf(err) == envelope.KindDecryptionFailed {
			return envelope.ErrDecryptionFailed
		}
		return err
	}
	defer util.WipeBytes(doc)

	var out bytes.Buffer
	if err := json.Indent(&out, doc, "", "  "); err != nil {
		return fmt.Errorf("formatting configuration: %w", err)
	}
	out.WriteByte('\n')
	defer util.WipeBytes(out.Bytes())
	return writeOutput(cmd, cfg.GetString("out"), out.Bytes())
}

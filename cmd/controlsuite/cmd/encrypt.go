package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/altimation/controlsuite/envelope"
	"github.com/altimation/controlsuite/internal/util"
	"github.com/altimation/controlsuite/strength"
)

var encryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Seal a configuration JSON document under a passphrase",
	Long: `Reads a configuration JSON document from --in or stdin and writes the
encrypted envelope. The passphrase is taken from ` + PassphraseEnvVar + `
or prompted for twice on the terminal.`,
	Args: cobra.NoArgs,
	RunE: runEncrypt,
}

func init() {
	rootCmd.AddCommand(encryptCmd)
	f := encryptCmd.Flags()
	f.StringP("in", "i", "", "Configuration file to read (default stdin)")
	f.StringP("out", "o", "", "Envelope file to write (default stdout)")
	f.Bool("strict", false, "Refuse passphrases that do not reach the minimum strength score")
}

func runEncrypt(cmd *cobra.Command, args []string) error {
	doc, err := readInput(cmd, cfg.GetString("in"))
	if err != nil {
		return err
	}
	defer util.WipeBytes(doc)

	stderr := cmd.ErrOrStderr()
	pass, err := getPassphraseWithConfirm(stderr, "Passphrase: ", "Confirm passphrase: ")
	if err != nil {
		return err
	}
	defer util.WipeBytes(pass)

	report := strength.Evaluate(string(pass))
	printReport(stderr, report)
	if cfg.GetBool("strict") && !report.Valid {
		return fmt.Errorf("passphrase too weak: score %d, need %d", report.Score, strength.MinScore)
	}

	codec := envelope.New()
	kdf := codec.Suite().KDF
	fmt.Fprintf(stderr, "Deriving key with scrypt (N=%s, %s)...\n",
		humanize.Comma(int64(kdf.N)), humanize.IBytes(kdf.MemoryCost()))

	env, err := codec.EncryptBytes(cmd.Context(), doc, string(pass))
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	return writeOutput(cmd, cfg.GetString("out"), append(out, '\n'))
}

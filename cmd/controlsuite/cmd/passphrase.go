package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"syscall"

	"golang.org/x/term"

	"github.com/altimation/controlsuite/internal/util"
)

// PassphraseEnvVar, when set, supplies the passphrase without prompting.
const PassphraseEnvVar = EnvPrefix + "_PASSPHRASE"

var (
	errEmptyPassphrase = errors.New("passphrase must not be empty")
	errMismatch        = errors.New("passphrases do not match")
)

// getPassphrase returns the passphrase from the environment or a hidden
// prompt on w. The caller wipes the result.
func getPassphrase(w io.Writer, prompt string) ([]byte, error) {
	if env := os.Getenv(PassphraseEnvVar); env != "" {
		return []byte(env), nil
	}
	pass, err := readPassword(w, prompt)
	if err != nil {
		return nil, err
	}
	if len(pass) == 0 {
		return nil, errEmptyPassphrase
	}
	return pass, nil
}

// getPassphraseWithConfirm prompts twice unless the environment supplies
// the passphrase.
func getPassphraseWithConfirm(w io.Writer, prompt, confirmPrompt string) ([]byte, error) {
	if env := os.Getenv(PassphraseEnvVar); env != "" {
		return []byte(env), nil
	}
	pass, err := getPassphrase(w, prompt)
	if err != nil {
		return nil, err
	}
	confirm, err := readPassword(w, confirmPrompt)
	if err != nil {
		util.WipeBytes(pass)
		return nil, err
	}
	defer util.WipeBytes(confirm)
	if !bytes.Equal(pass, confirm) {
		util.WipeBytes(pass)
		return nil, errMismatch
	}
	return pass, nil
}

func readPassword(w io.Writer, prompt string) ([]byte, error) {
	fmt.Fprint(w, prompt)
	defer fmt.Fprintln(w)

	if term.IsTerminal(int(syscall.Stdin)) {
		return term.ReadPassword(int(syscall.Stdin))
	}

	// Stdin carries the document; prompt on the controlling terminal.
	tty, err := os.Open("/dev/tty")
	if err != nil {
		if runtime.GOOS == "windows" {
			return nil, fmt.Errorf("set %s when stdin is piped", PassphraseEnvVar)
		}
		return nil, fmt.Errorf("cannot prompt for passphrase: stdin is piped and /dev/tty is unavailable; set %s", PassphraseEnvVar)
	}
	defer tty.Close()
	return term.ReadPassword(int(tty.Fd()))
}

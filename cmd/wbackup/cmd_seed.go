package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/urfave/cli"
	"golang.org/x/term"
)

// readPassphrase prompts for the BIP39 passphrase.
var readPassphrase = readPassword

var seedFingerprintCommand = cli.Command{
	Name:      "seedfingerprint",
	Category:  "Backup",
	Usage:     "Print the master fingerprint of an account mnemonic.",
	ArgsUsage: "file",
	Description: `
	Derive the master key of the account's mnemonic and print its
	fingerprint. The BIP39 passphrase is read from the terminal unless
	--nopassphrase is set.
	`,
	Flags: []cli.Flag{
		accountFlag,
		cli.BoolFlag{
			Name:  "nopassphrase",
			Usage: "Derive the seed with an empty passphrase.",
		},
	},
	Action: seedFingerprint,
}

func seedFingerprint(ctx *cli.Context) error {
	f, err := backupFileArg(ctx)
	if err != nil {
		return err
	}

	b, err := f.Extract()
	if err != nil {
		return err
	}

	idx, err := selectAccount(b, ctx.String("account"))
	if err != nil {
		return err
	}

	acct := &b.Accounts[idx]
	if acct.Mnemonic == nil {
		return fmt.Errorf("account %d has no mnemonic", idx)
	}

	var passphrase string
	if !ctx.Bool("nopassphrase") {
		pw, err := readPassphrase("Input BIP39 passphrase (leave " +
			"blank for none): ")
		if err != nil {
			return err
		}
		passphrase = string(pw)
	}

	fp, err := acct.Mnemonic.MasterFingerprint(passphrase)
	if err != nil {
		return err
	}

	return printJSON(ctx.App.Writer, struct {
		Fingerprint  string `json:"fingerprint"`
		InDescriptor bool   `json:"in_descriptor"`
	}{
		Fingerprint:  fp.String(),
		InDescriptor: acct.Descriptor.HasFingerprint(fp),
	})
}

// readPassword reads a password from the terminal. This requires there to be an
// actual TTY so passing in a password from stdin won't work.
func readPassword(text string) ([]byte, error) {
	fmt.Fprint(os.Stderr, text)

	// The variable syscall.Stdin is of a different type in the Windows API
	// that's why we need the explicit cast. And of course the linter
	// doesn't like it either.
	pw, err := term.ReadPassword(int(syscall.Stdin)) // nolint:unconvert
	fmt.Fprintln(os.Stderr)

	return pw, err
}

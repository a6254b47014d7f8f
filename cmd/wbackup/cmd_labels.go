package main

import (
	"fmt"
	"os"

	"github.com/lightningnetwork/walletbackup/backup"
	"github.com/lightningnetwork/walletbackup/labels"
	"github.com/urfave/cli"
)

var labelsCommand = cli.Command{
	Name:     "labels",
	Category: "Labels",
	Usage:    "Export and import BIP329 labels of an account.",
	Subcommands: []cli.Command{
		labelsExportCommand,
		labelsImportCommand,
	},
}

var labelsExportCommand = cli.Command{
	Name:      "export",
	Usage:     "Print the labels of an account as BIP329 JSON lines.",
	ArgsUsage: "file",
	Flags:     []cli.Flag{accountFlag},
	Action:    exportLabels,
}

func exportLabels(ctx *cli.Context) error {
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
	if acct.Labels == nil {
		log.Infof("Account %d has no labels", idx)
		return nil
	}

	return acct.Labels.WriteJSONL(ctx.App.Writer)
}

var labelsImportCommand = cli.Command{
	Name:      "import",
	Usage:     "Merge a BIP329 export into the labels of an account.",
	ArgsUsage: "file",
	Description: `
	Read the BIP329 JSON lines file given with --labels and add every label
	the account doesn't have yet. Labels already present are kept as they
	are.
	`,
	Flags: []cli.Flag{
		accountFlag,
		cli.StringFlag{
			Name:      "labels",
			Usage:     "The BIP329 JSON lines file to import.",
			TakesFile: true,
		},
	},
	Action: importLabels,
}

func importLabels(ctx *cli.Context) error {
	f, err := backupFileArg(ctx)
	if err != nil {
		return err
	}

	if ctx.String("labels") == "" {
		return fmt.Errorf("import: labels file missing")
	}

	labelFile, err := os.Open(cleanAndExpandPath(ctx.String("labels")))
	if err != nil {
		return err
	}
	defer labelFile.Close()

	imported, err := labels.ReadJSONL(labelFile)
	if err != nil {
		return err
	}

	// Imported labels end up in a wallet, which caps their length.
	if err := imported.ValidateLimit(); err != nil {
		return err
	}

	var added, total int
	err = updateBackup(f, func(b *backup.Backup) error {
		idx, err := selectAccount(b, ctx.String("account"))
		if err != nil {
			return err
		}
		acct := &b.Accounts[idx]

		var existing labels.Set
		if acct.Labels != nil {
			existing = *acct.Labels
		}

		merged := existing.Merge(imported)
		acct.Labels = &merged

		added = len(merged) - len(existing)
		total = len(merged)

		log.Infof("Imported %d of %d labels into account %d", added,
			len(imported), idx)

		return nil
	})
	if err != nil {
		return err
	}

	return printJSON(ctx.App.Writer, struct {
		Read  int `json:"read"`
		Added int `json:"added"`
		Total int `json:"total"`
	}{
		Read:  len(imported),
		Added: added,
		Total: total,
	})
}

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/lightningnetwork/walletbackup/backup"
	"github.com/lightningnetwork/walletbackup/backupfile"
	"github.com/lightningnetwork/walletbackup/backupv1"
	"github.com/lightningnetwork/walletbackup/bip32"
	"github.com/lightningnetwork/walletbackup/descriptor"
	"github.com/lightningnetwork/walletbackup/migration"
	"github.com/urfave/cli"
)

var (
	// errMissingFile is returned when a command is run without the path of
	// the backup file it operates on.
	errMissingFile = errors.New("backup file argument missing")

	// errDuplicateAccount is returned when an account is added under a
	// name that is already taken.
	errDuplicateAccount = errors.New("account name already in use")
)

func printJSON(w io.Writer, resp interface{}) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	var out bytes.Buffer
	if err := json.Indent(&out, b, "", "\t"); err != nil {
		return err
	}
	out.WriteString("\n")

	_, err = out.WriteTo(w)

	return err
}

// backupFileArg returns the backup file named by the first argument.
func backupFileArg(ctx *cli.Context) (*backupfile.File, error) {
	if ctx.NArg() < 1 || ctx.Args().First() == "" {
		return nil, fmt.Errorf("%s: %w", ctx.Command.Name,
			errMissingFile)
	}

	path := cleanAndExpandPath(ctx.Args().First())

	return backupfile.New(path, getConfig(ctx).NoArchive), nil
}

// updateBackup loads the backup in f, applies update and writes the result
// back in the version the file was in.
func updateBackup(f *backupfile.File,
	update func(*backup.Backup) error) error {

	version, err := f.ExtractVersion()
	if err != nil {
		return err
	}

	b, err := f.Extract()
	if err != nil {
		return err
	}

	if err := update(b); err != nil {
		return err
	}

	return f.UpdateAndSwapVersion(b, version)
}

// selectAccount resolves an account given by name or by index.
func selectAccount(b *backup.Backup, account string) (int, error) {
	if idx, ok := b.AccountByName(account); ok {
		return idx, nil
	}

	idx, err := strconv.Atoi(account)
	if err != nil || idx < 0 || idx >= len(b.Accounts) {
		return 0, fmt.Errorf("no account %q in backup with %d "+
			"accounts", account, len(b.Accounts))
	}

	return idx, nil
}

var accountFlag = cli.StringFlag{
	Name:  "account",
	Value: "0",
	Usage: "The name or index of the account.",
}

var createCommand = cli.Command{
	Name:     "create",
	Category: "Backup",
	Usage:    "Create an empty backup.",
	Description: `
	Create a backup without accounts for the configured network and write
	it to the file given with --out. An existing file is never overwritten.
	`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "name",
			Usage: "(optional) The name of the wallet.",
		},
		cli.StringFlag{
			Name:  "description",
			Usage: "(optional) A description of the wallet.",
		},
		cli.StringFlag{
			Name:      "out",
			Usage:     "The path of the backup file to create.",
			TakesFile: true,
		},
	},
	Action: create,
}

func create(ctx *cli.Context) error {
	if ctx.String("out") == "" {
		return fmt.Errorf("create: %w", errMissingFile)
	}

	cfg := getConfig(ctx)
	out := cleanAndExpandPath(ctx.String("out"))
	f := backupfile.New(out, cfg.NoArchive)
	if f.Exists() {
		return fmt.Errorf("backup file %v already exists", f.Path())
	}

	b := backup.New(cfg.network)
	if ctx.IsSet("name") {
		name := ctx.String("name")
		b.Name = &name
	}
	if ctx.IsSet("description") {
		description := ctx.String("description")
		b.Description = &description
	}

	if err := f.UpdateAndSwap(b); err != nil {
		return err
	}

	log.Infof("Created %v backup at %v", b.Network, f.Path())

	return printJSON(ctx.App.Writer, struct {
		File    string `json:"file"`
		Network string `json:"network"`
		Version uint32 `json:"version"`
	}{
		File:    f.Path(),
		Network: b.Network.String(),
		Version: backup.Version,
	})
}

var addAccountCommand = cli.Command{
	Name:      "addaccount",
	Category:  "Backup",
	Usage:     "Add an account to a backup.",
	ArgsUsage: "file",
	Description: `
	Append an account for the given output script descriptor. With
	--populatekeys a key entry is created for every master fingerprint the
	descriptor references.
	`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "descriptor",
			Usage: "The output script descriptor of the account.",
		},
		cli.StringFlag{
			Name:  "name",
			Usage: "(optional) The name of the account.",
		},
		cli.StringFlag{
			Name:  "description",
			Usage: "(optional) A description of the account.",
		},
		cli.Uint64Flag{
			Name: "timestamp",
			Usage: "(optional) The unix time of the account's " +
				"birthday.",
		},
		cli.BoolFlag{
			Name:  "populatekeys",
			Usage: "Add a key entry for every descriptor signer.",
		},
		cli.BoolFlag{
			Name:  "inactive",
			Usage: "Add the account as an inactive one.",
		},
	},
	Action: addAccount,
}

func addAccount(ctx *cli.Context) error {
	f, err := backupFileArg(ctx)
	if err != nil {
		return err
	}

	desc, err := descriptor.Parse(ctx.String("descriptor"))
	if err != nil {
		return fmt.Errorf("invalid descriptor: %w", err)
	}

	acct := backup.NewAccount(desc)
	acct.Active = !ctx.Bool("inactive")
	if ctx.IsSet("name") {
		name := ctx.String("name")
		acct.Name = &name
	}
	if ctx.IsSet("description") {
		description := ctx.String("description")
		acct.Description = &description
	}
	if ctx.IsSet("timestamp") {
		timestamp := ctx.Uint64("timestamp")
		acct.Timestamp = &timestamp
	}
	if ctx.Bool("populatekeys") {
		added := acct.PopulateKeys()
		log.Debugf("Populated %d key entries", added)
	}

	var idx int
	err = updateBackup(f, func(b *backup.Backup) error {
		if acct.Name != nil {
			if _, ok := b.AccountByName(*acct.Name); ok {
				return fmt.Errorf("%w: %v", errDuplicateAccount,
					*acct.Name)
			}
		}

		b.Accounts = append(b.Accounts, acct)
		idx = len(b.Accounts) - 1

		return nil
	})
	if err != nil {
		return err
	}

	log.Infof("Added account %d to %v", idx, f.Path())

	return printJSON(ctx.App.Writer, struct {
		Account int `json:"account"`
		NumKeys int `json:"num_keys"`
	}{
		Account: idx,
		NumKeys: len(acct.Keys),
	})
}

var setKeyCommand = cli.Command{
	Name:      "setkey",
	Category:  "Backup",
	Usage:     "Set the metadata of an account key.",
	ArgsUsage: "file",
	Description: `
	Create or update the key entry of the signer with the given master
	fingerprint. Only the fields given on the command line are changed.
	`,
	Flags: []cli.Flag{
		accountFlag,
		cli.StringFlag{
			Name:  "fingerprint",
			Usage: "The master fingerprint of the signer.",
		},
		cli.StringFlag{
			Name:  "alias",
			Usage: "(optional) A human readable name of the key.",
		},
		cli.StringFlag{
			Name: "role",
			Usage: "(optional) One of Main, Recovery, " +
				"Inheritance or Cosigning.",
		},
		cli.StringFlag{
			Name:  "type",
			Usage: "(optional) One of Internal, External or " +
				"ThirdParty.",
		},
		cli.StringFlag{
			Name:  "status",
			Usage: "(optional) One of Active, Inactive or Revoked.",
		},
		cli.StringFlag{
			Name: "bip85path",
			Usage: "(optional) The BIP85 path the key's seed was " +
				"derived at.",
		},
	},
	Action: setKey,
}

func setKey(ctx *cli.Context) error {
	f, err := backupFileArg(ctx)
	if err != nil {
		return err
	}

	fp, err := bip32.ParseFingerprint(ctx.String("fingerprint"))
	if err != nil {
		return err
	}

	apply := func(key *backup.Key) error {
		if ctx.IsSet("alias") {
			alias := ctx.String("alias")
			key.Alias = &alias
		}
		if ctx.IsSet("role") {
			role, err := backup.ParseKeyRole(ctx.String("role"))
			if err != nil {
				return err
			}
			key.Role = &role
		}
		if ctx.IsSet("type") {
			keyType, err := backup.ParseKeyType(ctx.String("type"))
			if err != nil {
				return err
			}
			key.KeyType = &keyType
		}
		if ctx.IsSet("status") {
			status, err := backup.ParseKeyStatus(
				ctx.String("status"),
			)
			if err != nil {
				return err
			}
			key.Status = &status
		}
		if ctx.IsSet("bip85path") {
			path, err := bip32.ParsePath(ctx.String("bip85path"))
			if err != nil {
				return err
			}
			key.BIP85DerivationPath = path
		}

		return nil
	}

	return updateBackup(f, func(b *backup.Backup) error {
		idx, err := selectAccount(b, ctx.String("account"))
		if err != nil {
			return err
		}
		acct := &b.Accounts[idx]

		key, ok := acct.Keys[fp]
		if !ok {
			if !acct.Descriptor.HasFingerprint(fp) {
				log.Warnf("Key %v isn't referenced by the "+
					"descriptor of account %d", fp, idx)
			}
			key = backup.NewKey(fp)
		}

		if err := apply(&key); err != nil {
			return err
		}

		if acct.Keys == nil {
			acct.Keys = make(map[bip32.Fingerprint]backup.Key)
		}
		acct.Keys[fp] = key

		log.Infof("Updated key %v of account %d", fp, idx)

		return nil
	})
}

type accountSummary struct {
	Index        int      `json:"index"`
	Name         string   `json:"name,omitempty"`
	Active       bool     `json:"active"`
	Descriptor   string   `json:"descriptor"`
	Fingerprints []string `json:"fingerprints"`
	StaleKeys    []string `json:"stale_keys,omitempty"`
	NumLabels    int      `json:"num_labels"`
	TxIDs        []string `json:"txids,omitempty"`
	NumPSBTs     int      `json:"num_psbts"`
	HasMnemonic  bool     `json:"has_mnemonic"`
}

type inspectResponse struct {
	Version  uint32           `json:"version"`
	Network  string           `json:"network"`
	Name     string           `json:"name,omitempty"`
	Accounts []accountSummary `json:"accounts"`
}

func summarizeAccount(idx int, acct *backup.Account) accountSummary {
	summary := accountSummary{
		Index:        idx,
		Active:       acct.Active,
		Descriptor:   acct.Descriptor.String(),
		Fingerprints: make([]string, 0, len(acct.Keys)),
		NumPSBTs:     len(acct.PSBTs),
		HasMnemonic:  acct.Mnemonic != nil,
	}
	if acct.Name != nil {
		summary.Name = *acct.Name
	}
	if acct.Labels != nil {
		summary.NumLabels = len(*acct.Labels)
	}

	for _, key := range acct.SortedKeys() {
		summary.Fingerprints = append(
			summary.Fingerprints, key.Key.String(),
		)
	}
	for _, fp := range acct.StaleKeys() {
		summary.StaleKeys = append(summary.StaleKeys, fp.String())
	}
	for _, tx := range acct.Transactions {
		txid := tx.TxHash()
		summary.TxIDs = append(summary.TxIDs, txid.String())
	}

	return summary
}

var inspectCommand = cli.Command{
	Name:      "inspect",
	Category:  "Backup",
	Usage:     "Print a summary of a backup.",
	ArgsUsage: "file",
	Action:    inspect,
}

func inspect(ctx *cli.Context) error {
	f, err := backupFileArg(ctx)
	if err != nil {
		return err
	}

	version, err := f.ExtractVersion()
	if err != nil {
		return err
	}
	b, err := f.Extract()
	if err != nil {
		return err
	}

	resp := inspectResponse{
		Version:  version,
		Network:  b.Network.String(),
		Accounts: make([]accountSummary, 0, len(b.Accounts)),
	}
	if b.Name != nil {
		resp.Name = *b.Name
	}
	for i := range b.Accounts {
		resp.Accounts = append(
			resp.Accounts, summarizeAccount(i, &b.Accounts[i]),
		)
	}

	return printJSON(ctx.App.Writer, resp)
}

var validateCommand = cli.Command{
	Name:      "validate",
	Category:  "Backup",
	Usage:     "Check that a backup is well formed.",
	ArgsUsage: "file",
	Description: `
	Strictly parse the backup and check every account descriptor against
	the network of the backup.
	`,
	Action: validate,
}

func validate(ctx *cli.Context) error {
	f, err := backupFileArg(ctx)
	if err != nil {
		return err
	}

	version, err := f.ExtractVersion()
	if err != nil {
		return err
	}
	b, err := f.Extract()
	if err != nil {
		return fmt.Errorf("invalid backup: %w", err)
	}

	return printJSON(ctx.App.Writer, struct {
		Valid       bool   `json:"valid"`
		Version     uint32 `json:"version"`
		Network     string `json:"network"`
		NumAccounts int    `json:"num_accounts"`
	}{
		Valid:       true,
		Version:     version,
		Network:     b.Network.String(),
		NumAccounts: len(b.Accounts),
	})
}

var outFlag = cli.StringFlag{
	Name:      "out",
	Usage:     "(optional) The file to write to instead of the input.",
	TakesFile: true,
}

var upgradeCommand = cli.Command{
	Name:      "upgrade",
	Category:  "Migration",
	Usage:     "Upgrade a backup to the latest version.",
	ArgsUsage: "file",
	Flags:     []cli.Flag{outFlag},
	Action: func(ctx *cli.Context) error {
		return migrate(ctx, migration.LatestVersion())
	},
}

var downgradeCommand = cli.Command{
	Name:      "downgrade",
	Category:  "Migration",
	Usage:     "Downgrade a backup to the first version.",
	ArgsUsage: "file",
	Description: `
	Rewrite the backup in the first version of the format. Fields that
	version can't hold are dropped with a warning. Every key must be
	resolvable to a public key of its account's descriptor.
	`,
	Flags: []cli.Flag{outFlag},
	Action: func(ctx *cli.Context) error {
		return migrate(ctx, backupv1.Version)
	},
}

func migrate(ctx *cli.Context, target uint32) error {
	in, err := backupFileArg(ctx)
	if err != nil {
		return err
	}

	from, err := in.ExtractVersion()
	if err != nil {
		return err
	}
	b, err := in.Extract()
	if err != nil {
		return err
	}

	out := in
	if ctx.IsSet("out") {
		out = backupfile.New(
			cleanAndExpandPath(ctx.String("out")),
			getConfig(ctx).NoArchive,
		)
	}

	type migrateResponse struct {
		File        string `json:"file"`
		FromVersion uint32 `json:"from_version"`
		ToVersion   uint32 `json:"to_version"`
	}
	resp := migrateResponse{
		File:        out.Path(),
		FromVersion: from,
		ToVersion:   target,
	}

	if from == target && out.Path() == in.Path() {
		log.Infof("Backup %v already is at version %d", in.Path(),
			target)

		return printJSON(ctx.App.Writer, resp)
	}

	if err := out.UpdateAndSwapVersion(b, target); err != nil {
		return err
	}

	log.Infof("Migrated %v from version %d to %d", out.Path(), from,
		target)

	return printJSON(ctx.App.Writer, resp)
}

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/walletbackup/build"
	"github.com/urfave/cli"
)

const (
	defaultConfigFilename = "wbackup.conf"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "wbackup.log"
	defaultNetwork        = "bitcoin"
	defaultDebugLevel     = "info"
)

var (
	defaultAppDir     = btcutil.AppDataDir("wbackup", false)
	defaultConfigFile = filepath.Join(defaultAppDir, defaultConfigFilename)
	defaultLogDir     = filepath.Join(defaultAppDir, defaultLogDirname)
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[wbackup] %v\n", err)
	os.Exit(1)
}

// newApp assembles the command line application. The config is loaded and
// logging is set up before any command runs.
func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "wbackup"
	app.Version = build.FullVersion()
	app.Usage = "create, inspect and migrate wallet backup documents"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:      "configfile",
			Value:     defaultConfigFile,
			Usage:     "The path to the config file.",
			TakesFile: true,
		},
		cli.StringFlag{
			Name: "network, n",
			Usage: "The network new backups are created for, one " +
				"of bitcoin, testnet, signet or regtest.",
			Value: defaultNetwork,
		},
		cli.StringFlag{
			Name: "debuglevel",
			Usage: "Logging level for all subsystems {trace, " +
				"debug, info, warn, error, critical} or " +
				"<global-level>,<subsystem>=<level>,... " +
				"to set the level of individual subsystems.",
			Value: defaultDebugLevel,
		},
		cli.StringFlag{
			Name:      "logdir",
			Value:     defaultLogDir,
			Usage:     "Directory to write the log file to.",
			TakesFile: true,
		},
		cli.BoolFlag{
			Name: "noarchive",
			Usage: "Overwrite backup files in place instead of " +
				"archiving the previous document.",
		},
	}
	app.Before = before
	app.After = after
	app.Commands = []cli.Command{
		createCommand,
		addAccountCommand,
		setKeyCommand,
		inspectCommand,
		validateCommand,
		upgradeCommand,
		downgradeCommand,
		labelsCommand,
		seedFingerprintCommand,
	}

	return app
}

// before loads the config and initializes logging.
func before(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	logWriter, err := setupLogging(cfg, errWriter(ctx))
	if err != nil {
		return err
	}

	if ctx.App.Metadata == nil {
		ctx.App.Metadata = make(map[string]interface{})
	}
	ctx.App.Metadata[configKey] = cfg
	ctx.App.Metadata[logWriterKey] = logWriter

	// Warn about a config file that couldn't be read only now that the
	// logger is set up.
	if cfg.configFileError != nil {
		log.Warnf("%v", cfg.configFileError)
	}

	log.Debugf("Loaded config for network %v", cfg.network)

	return nil
}

// after flushes and closes the log file.
func after(ctx *cli.Context) error {
	metadata := ctx.App.Metadata[logWriterKey]
	logWriter, ok := metadata.(*build.RotatingLogWriter)
	if !ok || logWriter == nil {
		return nil
	}

	return logWriter.Close()
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fatal(err)
	}
}

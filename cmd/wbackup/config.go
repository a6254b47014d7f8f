package main

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	flags "github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/walletbackup/backup"
	"github.com/lightningnetwork/walletbackup/build"
	"github.com/urfave/cli"
)

const (
	configKey    = "config"
	logWriterKey = "logwriter"
)

// config holds the settings shared by all commands. Values are read from the
// config file first and then overridden by the global command line flags.
//
//nolint:lll
type config struct {
	Network    string `long:"network" description:"The network new backups are created for." choice:"bitcoin" choice:"mainnet" choice:"testnet" choice:"signet" choice:"regtest"`
	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems, or <global-level>,<subsystem>=<level>,..."`
	LogDir     string `long:"logdir" description:"Directory to write the log file to."`
	NoArchive  bool   `long:"noarchive" description:"Overwrite backup files in place instead of archiving the previous document."`

	Log *build.LogConfig `group:"logging" namespace:"logging"`

	// network is the parsed Network.
	network backup.Network

	// configFileError is the error reading the config file failed with,
	// reported once logging is set up.
	configFileError error
}

// defaultConfig returns a config with every setting at its default.
func defaultConfig() *config {
	return &config{
		Network:    defaultNetwork,
		DebugLevel: defaultDebugLevel,
		LogDir:     defaultLogDir,
		Log:        build.DefaultLogConfig(),
	}
}

// loadConfig initializes the config from the config file and the global
// flags of ctx.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Load the config file overwriting defaults with any specified options
//  3. Overwrite with any global flag set on the command line
func loadConfig(ctx *cli.Context) (*config, error) {
	cfg := defaultConfig()

	configFile := cleanAndExpandPath(ctx.GlobalString("configfile"))

	if err := flags.IniParse(configFile, cfg); err != nil {
		// A malformed file is fatal, a missing one isn't.
		var iniErr *flags.IniError
		if errors.As(err, &iniErr) {
			return nil, err
		}

		if !errors.Is(err, os.ErrNotExist) {
			cfg.configFileError = fmt.Errorf("unable to read "+
				"config file %v: %w", configFile, err)
		}
	}

	if ctx.GlobalIsSet("network") {
		cfg.Network = ctx.GlobalString("network")
	}
	if ctx.GlobalIsSet("debuglevel") {
		cfg.DebugLevel = ctx.GlobalString("debuglevel")
	}
	if ctx.GlobalIsSet("logdir") {
		cfg.LogDir = ctx.GlobalString("logdir")
	}
	if ctx.GlobalIsSet("noarchive") {
		cfg.NoArchive = ctx.GlobalBool("noarchive")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks the loaded settings and fills in the derived fields.
func (c *config) validate() error {
	network, err := backup.ParseNetwork(c.Network)
	if err != nil {
		return fmt.Errorf("invalid network: %w", err)
	}
	c.network = network

	if err := c.Log.Validate(); err != nil {
		return err
	}

	c.LogDir = cleanAndExpandPath(c.LogDir)

	return nil
}

// getConfig returns the config loaded before the command ran.
func getConfig(ctx *cli.Context) *config {
	cfg, ok := ctx.App.Metadata[configKey].(*config)
	if !ok {
		return defaultConfig()
	}

	return cfg
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/walletbackup/backup"
	"github.com/lightningnetwork/walletbackup/backupfile"
	"github.com/lightningnetwork/walletbackup/backupv1"
	"github.com/lightningnetwork/walletbackup/build"
	"github.com/lightningnetwork/walletbackup/migration"
	"github.com/urfave/cli"
)

// Subsystem defines the logging code for the command line tool.
const Subsystem = "WBCL"

// log is a logger that is initialized with the btclog.Disabled logger.
var log = build.NewSubLogger(Subsystem, nil)

func useLogger(logger btclog.Logger) {
	log = logger
}

// setupLogging creates the handler all subsystems log through and applies the
// configured debug levels. The returned writer is nil if no log file is
// written.
func setupLogging(cfg *config, console io.Writer) (*build.RotatingLogWriter,
	error) {

	var (
		logWriter *build.RotatingLogWriter
		file      io.Writer
	)
	if cfg.LogDir != "" && !cfg.Log.File.Disable {
		logWriter = build.NewRotatingLogWriter()
		logFile := filepath.Join(cfg.LogDir, defaultLogFilename)
		err := logWriter.InitLogRotator(cfg.Log.File, logFile)
		if err != nil {
			return nil, err
		}
		file = logWriter
	}

	manager := build.NewSubLoggerManager(
		build.NewHandler(cfg.Log, console, file),
	)
	setSubLoggers(manager)

	err := build.ParseAndSetDebugLevels(cfg.DebugLevel, manager)
	if err != nil {
		if logWriter != nil {
			_ = logWriter.Close()
		}

		return nil, err
	}

	return logWriter, nil
}

// setSubLoggers registers the logger of every package that logs.
func setSubLoggers(manager *build.SubLoggerManager) {
	manager.RegisterSubLogger(Subsystem, useLogger)
	manager.RegisterSubLogger(backup.Subsystem, backup.UseLogger)
	manager.RegisterSubLogger(backupv1.Subsystem, backupv1.UseLogger)
	manager.RegisterSubLogger(migration.Subsystem, migration.UseLogger)
	manager.RegisterSubLogger(backupfile.Subsystem, backupfile.UseLogger)
}

// errWriter returns the writer console log lines go to.
func errWriter(ctx *cli.Context) io.Writer {
	if ctx.App.ErrWriter != nil {
		return ctx.App.ErrWriter
	}

	return os.Stderr
}

package build

import (
	"fmt"
	"io"

	"github.com/btcsuite/btclog/v2"
)

const (
	callSiteOff   = "off"
	callSiteShort = "short"
	callSiteLong  = "long"

	// Gzip is the default compressor of rotated log files.
	Gzip = "gzip"

	// Zstd is the zstd compressor of rotated log files.
	Zstd = "zstd"

	defaultLogCompressor = Gzip

	// DefaultMaxLogFiles is the default maximum number of log files to
	// keep.
	DefaultMaxLogFiles = 3

	// DefaultMaxLogFileSize is the default maximum log file size in MB.
	DefaultMaxLogFileSize = 10
)

// logCompressors maps the supported compression algorithms to the file
// suffix of rotated log files.
var logCompressors = map[string]string{
	Gzip: "gz",
	Zstd: "zst",
}

// SupportedLogCompressor returns whether or not logCompressor is a supported
// compression algorithm for log files.
func SupportedLogCompressor(logCompressor string) bool {
	_, ok := logCompressors[logCompressor]

	return ok
}

// LogConfig holds logging configuration options.
//
//nolint:lll
type LogConfig struct {
	Console *LoggerConfig     `group:"console" namespace:"console" description:"The logger writing to stderr."`
	File    *FileLoggerConfig `group:"file" namespace:"file" description:"The logger writing to the log file."`
}

// Validate validates the LogConfig struct values.
func (c *LogConfig) Validate() error {
	if !SupportedLogCompressor(c.File.Compressor) {
		return fmt.Errorf("invalid log compressor: %v",
			c.File.Compressor)
	}

	return nil
}

// LoggerConfig holds options for a particular logger.
//
//nolint:lll
type LoggerConfig struct {
	Disable      bool   `long:"disable" description:"Disable this logger."`
	NoTimestamps bool   `long:"no-timestamps" description:"Omit timestamps from log lines."`
	CallSite     string `long:"call-site" description:"Include the call-site of each log line." choice:"off" choice:"short" choice:"long"`
}

// DefaultLogConfig returns the default logging config options.
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Console: &LoggerConfig{
			NoTimestamps: true,
			CallSite:     callSiteOff,
		},
		File: &FileLoggerConfig{
			Compressor:     defaultLogCompressor,
			MaxLogFiles:    DefaultMaxLogFiles,
			MaxLogFileSize: DefaultMaxLogFileSize,
			LoggerConfig: LoggerConfig{
				CallSite: callSiteOff,
			},
		},
	}
}

// HandlerOptions returns the set of btclog.HandlerOptions that the state of the
// config struct translates to.
func (cfg *LoggerConfig) HandlerOptions() []btclog.HandlerOption {
	var opts []btclog.HandlerOption

	if cfg.NoTimestamps {
		opts = append(opts, btclog.WithNoTimestamp())
	}

	switch cfg.CallSite {
	case callSiteShort:
		opts = append(opts, btclog.WithCallerFlags(btclog.Lshortfile))
	case callSiteLong:
		opts = append(opts, btclog.WithCallerFlags(btclog.Llongfile))
	}

	return opts
}

// FileLoggerConfig extends LoggerConfig with specific log file options.
//
//nolint:lll
type FileLoggerConfig struct {
	LoggerConfig
	Compressor     string `long:"compressor" description:"Compression algorithm to use when rotating logs." choice:"gzip" choice:"zstd"`
	MaxLogFiles    int    `long:"max-files" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int    `long:"max-file-size" description:"Maximum logfile size in MB"`
}

// NewHandler returns the handler that all subsystem loggers write through.
// Lines go to console and file unless the respective logger is disabled. The
// console options take precedence when both are enabled.
func NewHandler(cfg *LogConfig, console, file io.Writer) btclog.Handler {
	var (
		writers []io.Writer
		opts    []btclog.HandlerOption
	)

	if file != nil && !cfg.File.Disable {
		writers = append(writers, file)
		opts = cfg.File.HandlerOptions()
	}
	if console != nil && !cfg.Console.Disable {
		writers = append(writers, console)
		opts = cfg.Console.HandlerOptions()
	}

	if len(writers) == 0 {
		return btclog.NewDefaultHandler(io.Discard)
	}

	return btclog.NewDefaultHandler(io.MultiWriter(writers...), opts...)
}

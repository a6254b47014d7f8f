package build

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/btcsuite/btclog/v2"
)

// NewSubLogger returns the logger of a subsystem, generated by genSubLogger.
// Without a generator logging is disabled, which is what packages default to
// until a binary wires them up.
func NewSubLogger(subsystem string,
	genSubLogger func(string) btclog.Logger) btclog.Logger {

	if genSubLogger == nil {
		return btclog.Disabled
	}

	return genSubLogger(subsystem)
}

// SubLoggers is a type that holds a map of subsystem loggers keyed by their
// subsystem name.
type SubLoggers map[string]btclog.Logger

// LeveledSubLogger provides the ability to retrieve the subsystem loggers of
// a logger and set their log levels individually or all at once.
type LeveledSubLogger interface {
	// SubLoggers returns the map of all registered subsystem loggers.
	SubLoggers() SubLoggers

	// SupportedSubsystems returns a sorted slice of the names of the
	// registered subsystems.
	SupportedSubsystems() []string

	// SetLogLevel assigns an individual subsystem logger a new log level.
	SetLogLevel(subsystemID string, logLevel string)

	// SetLogLevels assigns all subsystem loggers the same new log level.
	SetLogLevels(logLevel string)
}

// SubLoggerManager creates the loggers of every registered subsystem from a
// single handler and keeps track of them so their levels can be changed.
type SubLoggerManager struct {
	handler btclog.Handler

	mu         sync.Mutex
	subLoggers SubLoggers
}

// A compile time check to ensure SubLoggerManager implements
// LeveledSubLogger.
var _ LeveledSubLogger = (*SubLoggerManager)(nil)

// NewSubLoggerManager returns a manager whose loggers write to handler.
func NewSubLoggerManager(handler btclog.Handler) *SubLoggerManager {
	return &SubLoggerManager{
		handler:    handler,
		subLoggers: make(SubLoggers),
	}
}

// GenSubLogger creates the logger of a subsystem and registers it. It can be
// handed to NewSubLogger.
func (m *SubLoggerManager) GenSubLogger(subsystem string) btclog.Logger {
	m.mu.Lock()
	defer m.mu.Unlock()

	if logger, ok := m.subLoggers[subsystem]; ok {
		return logger
	}

	logger := btclog.NewSLogger(m.handler.SubSystem(subsystem))
	m.subLoggers[subsystem] = logger

	return logger
}

// RegisterSubLogger creates the logger of a subsystem and hands it to the
// package's UseLogger function.
func (m *SubLoggerManager) RegisterSubLogger(subsystem string,
	useLogger func(btclog.Logger)) {

	useLogger(NewSubLogger(subsystem, m.GenSubLogger))
}

// SubLoggers returns the map of all registered subsystem loggers.
func (m *SubLoggerManager) SubLoggers() SubLoggers {
	m.mu.Lock()
	defer m.mu.Unlock()

	loggers := make(SubLoggers, len(m.subLoggers))
	for name, logger := range m.subLoggers {
		loggers[name] = logger
	}

	return loggers
}

// SupportedSubsystems returns the sorted names of the registered subsystems.
func (m *SubLoggerManager) SupportedSubsystems() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	subsystems := make([]string, 0, len(m.subLoggers))
	for name := range m.subLoggers {
		subsystems = append(subsystems, name)
	}
	sort.Strings(subsystems)

	return subsystems
}

// SetLogLevel sets the level of a single subsystem. Unknown subsystems and
// levels are ignored.
func (m *SubLoggerManager) SetLogLevel(subsystemID string, logLevel string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	logger, ok := m.subLoggers[subsystemID]
	if !ok {
		return
	}

	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// SetLogLevels sets the level of every registered subsystem.
func (m *SubLoggerManager) SetLogLevels(logLevel string) {
	level, _ := btclog.LevelFromString(logLevel)

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, logger := range m.subLoggers {
		logger.SetLevel(level)
	}
}

// ParseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly on the given logger. An appropriate error is returned
// if anything is invalid.
func ParseAndSetDebugLevels(level string, logger LeveledSubLogger) error {
	// Split at the delimiter.
	levels := strings.Split(level, ",")
	if len(levels) == 0 {
		return fmt.Errorf("invalid log level: %v", level)
	}

	// If the first entry has no =, treat is as the log level for all
	// subsystems.
	globalLevel := levels[0]
	if !strings.Contains(globalLevel, "=") {
		if !validLogLevel(globalLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, globalLevel)
		}

		logger.SetLogLevels(globalLevel)

		// The rest will target specific subsystems.
		levels = levels[1:]
	}

	for _, logLevelPair := range levels {
		fields := strings.Split(logLevelPair, "=")
		if len(fields) != 2 {
			str := "the specified debug level has an invalid " +
				"format [%v] -- use format subsystem1=level1," +
				"subsystem2=level2"
			return fmt.Errorf(str, logLevelPair)
		}
		subsysID, logLevel := fields[0], fields[1]

		if _, exists := logger.SubLoggers()[subsysID]; !exists {
			str := "the specified subsystem [%v] is invalid -- " +
				"supported subsystems are %v"
			return fmt.Errorf(
				str, subsysID, logger.SupportedSubsystems(),
			)
		}

		if !validLogLevel(logLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		logger.SetLogLevel(subsysID, logLevel)
	}

	return nil
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace", "debug", "info", "warn", "error", "critical", "off":
		return true
	}

	return false
}

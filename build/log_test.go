package build

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btclog/v2"
	"github.com/stretchr/testify/require"
)

func TestNewSubLoggerDisabled(t *testing.T) {
	t.Parallel()

	logger := NewSubLogger("TEST", nil)
	require.Equal(t, btclog.LevelOff, logger.Level())
}

func TestParseAndSetDebugLevels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	manager := NewSubLoggerManager(
		btclog.NewDefaultHandler(&buf, btclog.WithNoTimestamp()),
	)

	var migrLog btclog.Logger
	manager.RegisterSubLogger("MIGR", func(l btclog.Logger) {
		migrLog = l
	})
	bfilLog := NewSubLogger("BFIL", manager.GenSubLogger)

	require.Equal(t, []string{"BFIL", "MIGR"},
		manager.SupportedSubsystems())

	require.NoError(t, ParseAndSetDebugLevels("debug,BFIL=error", manager))
	require.Equal(t, btclog.LevelDebug, migrLog.Level())
	require.Equal(t, btclog.LevelError, bfilLog.Level())

	migrLog.Debugf("upgrading %d accounts", 2)
	bfilLog.Infof("not written")
	require.Contains(t, buf.String(), "MIGR")
	require.Contains(t, buf.String(), "upgrading 2 accounts")
	require.NotContains(t, buf.String(), "not written")

	testCases := []struct {
		name  string
		level string
		err   string
	}{
		{"unknown global level", "loud", "is invalid"},
		{"unknown subsystem", "info,NOPE=info", "supported subsystems"},
		{"bad pair", "info,MIGR", "invalid format"},
		{"unknown subsystem level", "MIGR=loud", "is invalid"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ParseAndSetDebugLevels(tc.level, manager)
			require.ErrorContains(t, err, tc.err)
		})
	}
}

func TestSupportedLogCompressor(t *testing.T) {
	t.Parallel()

	require.True(t, SupportedLogCompressor(Gzip))
	require.True(t, SupportedLogCompressor(Zstd))
	require.False(t, SupportedLogCompressor("lz4"))

	cfg := DefaultLogConfig()
	require.NoError(t, cfg.Validate())

	cfg.File.Compressor = "lz4"
	require.Error(t, cfg.Validate())
}

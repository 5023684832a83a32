package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittorpc/internal/protocol/rpc/auth"
	"github.com/marmos91/dittorpc/internal/xdr"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

// ============================================================================
// Defaults Tests
// ============================================================================

func TestApplyDefaults(t *testing.T) {
	t.Run("FillsEveryZeroField", func(t *testing.T) {
		var cfg Config
		ApplyDefaults(&cfg)

		assert.Equal(t, "INFO", cfg.Logging.Level)
		assert.Equal(t, "text", cfg.Logging.Format)
		assert.Equal(t, "stdout", cfg.Logging.Output)
		assert.Equal(t, ":20049", cfg.Server.ListenAddress)
		assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
		assert.Equal(t, xdr.DefaultMaxMessageSize, cfg.Server.MaxMessageSize)
		assert.Equal(t, 5*time.Second, cfg.Client.CallTimeout)
		assert.Equal(t, "none", cfg.Auth.Flavor)
		assert.Equal(t, ":9090", cfg.Metrics.ListenAddress)
	})

	t.Run("PreservesExplicitValues", func(t *testing.T) {
		cfg := Config{}
		cfg.Server.ListenAddress = ":7777"
		cfg.Client.CallTimeout = time.Minute
		ApplyDefaults(&cfg)

		assert.Equal(t, ":7777", cfg.Server.ListenAddress)
		assert.Equal(t, time.Minute, cfg.Client.CallTimeout)
	})

	t.Run("NormalizesLogLevelCase", func(t *testing.T) {
		cfg := Config{}
		cfg.Logging.Level = "debug"
		ApplyDefaults(&cfg)

		assert.Equal(t, "DEBUG", cfg.Logging.Level)
	})
}

// ============================================================================
// Load Tests
// ============================================================================

func TestLoad(t *testing.T) {
	t.Run("LoadsFromYAMLFile", func(t *testing.T) {
		path := writeConfigFile(t, `
logging:
  level: DEBUG
server:
  listen_address: ":12049"
  max_message_size: 65536
client:
  call_timeout: 10s
`)

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "DEBUG", cfg.Logging.Level)
		assert.Equal(t, ":12049", cfg.Server.ListenAddress)
		assert.Equal(t, 65536, cfg.Server.MaxMessageSize)
		assert.Equal(t, 10*time.Second, cfg.Client.CallTimeout)

		// Unspecified sections still fall back to defaults.
		assert.Equal(t, "text", cfg.Logging.Format)
		assert.Equal(t, "none", cfg.Auth.Flavor)
	})

	t.Run("MissingFileUsesDefaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)

		assert.Equal(t, ":20049", cfg.Server.ListenAddress)
	})

	t.Run("RejectsInvalidLogLevel", func(t *testing.T) {
		path := writeConfigFile(t, `
logging:
  level: LOUD
`)

		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validation failed")
	})

	t.Run("RejectsUnknownAuthFlavor", func(t *testing.T) {
		path := writeConfigFile(t, `
auth:
  flavor: kerberos
`)

		_, err := Load(path)
		require.Error(t, err)
	})

	t.Run("DumpRendersLoadableYAML", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)

		out, err := cfg.Dump()
		require.NoError(t, err)
		assert.Contains(t, string(out), "listen_address")
	})
}

// ============================================================================
// Validation Tests
// ============================================================================

func TestValidate(t *testing.T) {
	valid := func() *Config {
		var cfg Config
		ApplyDefaults(&cfg)
		return &cfg
	}

	t.Run("AcceptsDefaults", func(t *testing.T) {
		require.NoError(t, Validate(valid()))
	})

	t.Run("RejectsMessageSizeBeyondRecordMark", func(t *testing.T) {
		cfg := valid()
		cfg.Server.MaxMessageSize = 1 << 31

		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "record-mark limit")
	})

	t.Run("RejectsNegativeShutdownTimeout", func(t *testing.T) {
		cfg := valid()
		cfg.Server.ShutdownTimeout = -time.Second

		require.Error(t, Validate(cfg))
	})

	t.Run("RejectsExcessiveUnixGroups", func(t *testing.T) {
		cfg := valid()
		cfg.Auth.Flavor = "unix"
		gids := make([]any, 17)
		for i := range gids {
			gids[i] = i
		}
		cfg.Auth.Unix = map[string]any{"gids": gids}

		err := Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too many gids")
	})
}

// ============================================================================
// Auth Factory Tests
// ============================================================================

func TestBuildClientAuth(t *testing.T) {
	t.Run("BuildsNone", func(t *testing.T) {
		cred, err := BuildClientAuth(&AuthConfig{Flavor: "none"})
		require.NoError(t, err)
		assert.Equal(t, uint32(auth.FlavorNone), cred.Flavor())
	})

	t.Run("BuildsUnixFromOptions", func(t *testing.T) {
		cred, err := BuildClientAuth(&AuthConfig{
			Flavor: "unix",
			Unix: map[string]any{
				"machine_name": "buildbox",
				"uid":          501,
				"gid":          20,
				"gids":         []any{12, 20},
			},
		})
		require.NoError(t, err)

		unix, ok := cred.(*auth.Unix)
		require.True(t, ok)
		assert.Equal(t, "buildbox", unix.MachineName)
		assert.Equal(t, uint32(501), unix.UID)
		assert.Equal(t, uint32(20), unix.GID)
		assert.Equal(t, []uint32{12, 20}, unix.GIDs)
	})

	t.Run("DefaultsMachineNameToHostname", func(t *testing.T) {
		cred, err := BuildClientAuth(&AuthConfig{Flavor: "unix", Unix: map[string]any{}})
		require.NoError(t, err)

		unix := cred.(*auth.Unix)
		assert.NotEmpty(t, unix.MachineName)
	})

	t.Run("RejectsUnknownFlavor", func(t *testing.T) {
		_, err := BuildClientAuth(&AuthConfig{Flavor: "gss"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown auth flavor")
	})
}

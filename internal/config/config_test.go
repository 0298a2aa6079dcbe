package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shieldlabs/txshield/internal/baseunit"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_WithValidConfig(t *testing.T) {
	setEnv(t, "RPC_URL", "http://localhost:8545")
	setEnv(t, "PORT", "9090")
	setEnv(t, "FRAGMENT_THRESHOLD", "40000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "http://localhost:8545", cfg.RPCURL)
	assert.Equal(t, int64(40_000), cfg.FragmentThresholdBase)
	assert.Equal(t, int64(DefaultMinFragmentUnit), cfg.MinFragmentUnitBase)
	assert.Equal(t, DefaultDecoyCount, cfg.DecoyCount)
}

func TestLoad_MissingRPCURL(t *testing.T) {
	setEnv(t, "RPC_URL", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "RPC_URL is required")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name: "valid",
			config: Config{
				RPCURL:                "http://localhost:8545",
				FragmentThresholdBase: DefaultFragmentThreshold,
				MinFragmentUnitBase:   DefaultMinFragmentUnit,
			},
		},
		{
			name: "zero fragment threshold",
			config: Config{
				RPCURL:              "http://localhost:8545",
				MinFragmentUnitBase: DefaultMinFragmentUnit,
			},
			wantErr: "FRAGMENT_THRESHOLD must be positive",
		},
		{
			name: "zero min fragment unit",
			config: Config{
				RPCURL:                "http://localhost:8545",
				FragmentThresholdBase: DefaultFragmentThreshold,
			},
			wantErr: "MIN_FRAGMENT_UNIT must be positive",
		},
		{
			name: "negative decoy count",
			config: Config{
				RPCURL:                "http://localhost:8545",
				FragmentThresholdBase: DefaultFragmentThreshold,
				MinFragmentUnitBase:   DefaultMinFragmentUnit,
				DecoyCount:            -1,
			},
			wantErr: "DECOY_COUNT must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_AmountConversions(t *testing.T) {
	cfg := Config{FragmentThresholdBase: 25_000, MinFragmentUnitBase: 2_500}

	assert.Zero(t, baseunit.FromBase(25_000).Cmp(cfg.FragmentThreshold()))
	assert.Zero(t, baseunit.FromBase(2_500).Cmp(cfg.MinFragmentUnit()))
}

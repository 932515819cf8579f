package cmd

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/flashbots/engine-relay/common"
	"github.com/flashbots/engine-relay/config"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func setConfig(t *testing.T, key string, value any) {
	t.Helper()
	prev := viper.Get(key)
	viper.Set(key, value)
	t.Cleanup(func() { viper.Set(key, prev) })
}

func TestLoadJWTSecret(t *testing.T) {
	secret, err := common.GenerateJWTSecret()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "jwt.hex")
	require.NoError(t, common.WriteJWTSecretFile(path, secret))

	secretKey := config.BackendKey(config.PrefixL2, config.KeyJWTSecret)
	pathKey := config.BackendKey(config.PrefixL2, config.KeyJWTSecretPath)

	t.Run("missing", func(t *testing.T) {
		setConfig(t, secretKey, "")
		setConfig(t, pathKey, "")
		_, err := loadJWTSecret(config.PrefixL2)
		require.ErrorIs(t, err, ErrMissingJWTSecret)
	})

	t.Run("inline", func(t *testing.T) {
		setConfig(t, secretKey, "0x"+secret.Hex())
		setConfig(t, pathKey, "")
		loaded, err := loadJWTSecret(config.PrefixL2)
		require.NoError(t, err)
		require.Equal(t, secret, loaded)
	})

	t.Run("file", func(t *testing.T) {
		setConfig(t, secretKey, "")
		setConfig(t, pathKey, path)
		loaded, err := loadJWTSecret(config.PrefixL2)
		require.NoError(t, err)
		require.Equal(t, secret, loaded)
	})

	t.Run("both", func(t *testing.T) {
		setConfig(t, secretKey, secret.Hex())
		setConfig(t, pathKey, path)
		_, err := loadJWTSecret(config.PrefixL2)
		require.ErrorIs(t, err, ErrAmbiguousJWTSecret)
	})

	t.Run("too short", func(t *testing.T) {
		setConfig(t, secretKey, "0x0102")
		setConfig(t, pathKey, "")
		_, err := loadJWTSecret(config.PrefixL2)
		require.ErrorIs(t, err, common.ErrInvalidJWTSecret)
	})
}

func TestBackendConfig(t *testing.T) {
	prefix := config.PrefixBuilder
	setConfig(t, config.BackendKey(prefix, config.KeyHTTPAddr), "10.0.0.1")
	setConfig(t, config.BackendKey(prefix, config.KeyHTTPPort), 8545)
	setConfig(t, config.BackendKey(prefix, config.KeyAuthAddr), "10.0.0.2")
	setConfig(t, config.BackendKey(prefix, config.KeyAuthPort), 8551)
	setConfig(t, config.BackendKey(prefix, config.KeyJWTSecret), "0x"+common.JWTSecret{0x01}.Hex())
	setConfig(t, config.BackendKey(prefix, config.KeyJWTSecretPath), "")
	setConfig(t, config.BackendKey(prefix, config.KeyTimeoutMs), 250)

	cfg, err := backendConfig(prefix, common.BackendBuilding)
	require.NoError(t, err)
	require.Equal(t, common.BackendBuilding, cfg.ID)
	require.Equal(t, "http://10.0.0.1:8545", cfg.HTTP.URL())
	require.Equal(t, "http://10.0.0.2:8551", cfg.Auth.URL())
	require.Equal(t, common.JWTSecret{0x01}, cfg.JWTSecret)
	require.Equal(t, 250*time.Millisecond, cfg.Timeout)
}

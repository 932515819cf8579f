package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/flashbots/engine-relay/common"
	"github.com/flashbots/engine-relay/config"
	"github.com/flashbots/engine-relay/executionclient"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	ErrMissingJWTSecret   = errors.New("no JWT secret configured")
	ErrAmbiguousJWTSecret = errors.New("both a JWT secret and a JWT secret path are configured")
)

// backendFlags maps the flag suffixes of a backend to their config keys
var backendFlags = []struct {
	flag string
	key  string
}{
	{"http-addr", config.KeyHTTPAddr},
	{"http-port", config.KeyHTTPPort},
	{"auth-addr", config.KeyAuthAddr},
	{"auth-port", config.KeyAuthPort},
	{"jwtsecret", config.KeyJWTSecret},
	{"jwtsecret-path", config.KeyJWTSecretPath},
	{"timeout", config.KeyTimeoutMs},
}

// addBackendFlags registers the flags of one backend, i.e. --builder-http-port
func addBackendFlags(cmd *cobra.Command, prefix, name string) {
	cmd.Flags().String(prefix+"-http-addr", "127.0.0.1", name+" backend JSON-RPC address")
	cmd.Flags().Uint16(prefix+"-http-port", 0, name+" backend JSON-RPC port")
	cmd.Flags().String(prefix+"-auth-addr", "127.0.0.1", name+" backend engine API address")
	cmd.Flags().Uint16(prefix+"-auth-port", 0, name+" backend engine API port")
	cmd.Flags().String(prefix+"-jwtsecret", "", name+" backend JWT secret, hex encoded")
	cmd.Flags().String(prefix+"-jwtsecret-path", "", "path to the "+name+" backend JWT secret file")
	cmd.Flags().Int(prefix+"-timeout", config.DefaultBackendTimeoutMs, name+" backend request timeout in milliseconds")
}

func bindBackendFlags(cmd *cobra.Command, prefix string) {
	for _, f := range backendFlags {
		_ = viper.BindPFlag(config.BackendKey(prefix, f.key), cmd.Flags().Lookup(prefix+"-"+f.flag))
	}
}

// loadJWTSecret reads the secret of a backend from exactly one of its two sources
func loadJWTSecret(prefix string) (common.JWTSecret, error) {
	secretHex := config.GetString(config.BackendKey(prefix, config.KeyJWTSecret))
	secretPath := config.GetString(config.BackendKey(prefix, config.KeyJWTSecretPath))

	switch {
	case secretHex != "" && secretPath != "":
		return common.JWTSecret{}, fmt.Errorf("%s: %w", prefix, ErrAmbiguousJWTSecret)
	case secretHex != "":
		return common.ParseJWTSecret(secretHex)
	case secretPath != "":
		return common.LoadJWTSecret(secretPath)
	default:
		return common.JWTSecret{}, fmt.Errorf("%w: set either --%s-jwtsecret or --%s-jwtsecret-path", ErrMissingJWTSecret, prefix, prefix)
	}
}

// backendConfig builds the client config of a backend from its prefixed config keys
func backendConfig(prefix string, id common.BackendID) (executionclient.Config, error) {
	secret, err := loadJWTSecret(prefix)
	if err != nil {
		return executionclient.Config{}, err
	}

	return executionclient.Config{
		ID: id,
		HTTP: common.Endpoint{
			Scheme: "http",
			Addr:   config.GetString(config.BackendKey(prefix, config.KeyHTTPAddr)),
			Port:   config.GetUint16(config.BackendKey(prefix, config.KeyHTTPPort)),
		},
		Auth: common.Endpoint{
			Scheme: "http",
			Addr:   config.GetString(config.BackendKey(prefix, config.KeyAuthAddr)),
			Port:   config.GetUint16(config.BackendKey(prefix, config.KeyAuthPort)),
		},
		JWTSecret: secret,
		Timeout:   time.Duration(config.GetInt64(config.BackendKey(prefix, config.KeyTimeoutMs))) * time.Millisecond,
	}, nil
}

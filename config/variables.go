// Package config defines the default configuration and binds to environment variables
package config

import (
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	// Default values
	DefaultLogJSON  = false
	DefaultLogLevel = "info"

	DefaultListenAddr       = "localhost:8081"
	DefaultMetricsEnabled   = false
	DefaultTracingEnabled   = false
	DefaultPayloadCacheSize = 100
	DefaultPayloadIDPolicy  = "canonical-first"
	DefaultBackendTimeoutMs = 1000

	// Common
	KeyLogJSON  = "LogJSON"
	KeyLogLevel = "LogLevel"
	KeyLogTag   = "LogTag"

	// Relay
	KeyListenAddr       = "ListenAddr"
	KeyMetricsEnabled   = "MetricsEnabled"
	KeyTracingEnabled   = "TracingEnabled"
	KeyPayloadCacheSize = "PayloadCacheSize"
	KeyPayloadIDPolicy  = "PayloadIDPolicy"

	// Backend keys, prefixed with PrefixBuilder or PrefixL2 (see BackendKey)
	PrefixBuilder = "builder"
	PrefixL2      = "l2"

	KeyHTTPAddr      = "HTTPAddr"
	KeyHTTPPort      = "HTTPPort"
	KeyAuthAddr      = "AuthAddr"
	KeyAuthPort      = "AuthPort"
	KeyJWTSecret     = "JWTSecret"
	KeyJWTSecretPath = "JWTSecretPath"
	KeyTimeoutMs     = "TimeoutMs"
)

var configEnvs = make(map[string]string)

// sensitive keys are masked by GetConfig
var sensitiveKeys = map[string]bool{
	BackendKey(PrefixBuilder, KeyJWTSecret): true,
	BackendKey(PrefixL2, KeyJWTSecret):      true,
}

func init() {
	// Common
	bindAndSet(KeyLogJSON, "LOG_JSON", DefaultLogJSON)
	bindAndSet(KeyLogLevel, "LOG_LEVEL", DefaultLogLevel)
	bindAndSet(KeyLogTag, "LOG_TAG", "")

	// Relay
	bindAndSet(KeyListenAddr, "LISTEN_ADDR", DefaultListenAddr)
	bindAndSet(KeyMetricsEnabled, "METRICS", DefaultMetricsEnabled)
	bindAndSet(KeyTracingEnabled, "TRACING", DefaultTracingEnabled)
	bindAndSet(KeyPayloadCacheSize, "PAYLOAD_CACHE_SIZE", DefaultPayloadCacheSize)
	bindAndSet(KeyPayloadIDPolicy, "PAYLOAD_ID_POLICY", DefaultPayloadIDPolicy)

	// Backends
	for _, prefix := range []string{PrefixBuilder, PrefixL2} {
		bindAndSet(BackendKey(prefix, KeyHTTPAddr), BackendEnv(prefix, "HTTP_ADDR"), "127.0.0.1")
		bindAndSet(BackendKey(prefix, KeyHTTPPort), BackendEnv(prefix, "HTTP_PORT"), 0)
		bindAndSet(BackendKey(prefix, KeyAuthAddr), BackendEnv(prefix, "AUTH_ADDR"), "127.0.0.1")
		bindAndSet(BackendKey(prefix, KeyAuthPort), BackendEnv(prefix, "AUTH_PORT"), 0)
		bindAndSet(BackendKey(prefix, KeyJWTSecret), BackendEnv(prefix, "JWTSECRET"), "")
		bindAndSet(BackendKey(prefix, KeyJWTSecretPath), BackendEnv(prefix, "JWTSECRET_PATH"), "")
		bindAndSet(BackendKey(prefix, KeyTimeoutMs), BackendEnv(prefix, "TIMEOUT"), DefaultBackendTimeoutMs)
	}
}

// BackendKey returns the config key for a backend setting, i.e. "builder.HTTPPort"
func BackendKey(prefix, key string) string {
	return prefix + "." + key
}

// BackendEnv returns the environment variable for a backend setting, i.e. "BUILDER_HTTP_PORT"
func BackendEnv(prefix, suffix string) string {
	return strings.ToUpper(prefix) + "_" + suffix
}

func bindAndSet(key, envVariable string, defaultValue any) {
	if err := viper.BindEnv(key, envVariable); err != nil {
		logrus.WithError(err).Fatalf("Failed to BindEnv: %s", envVariable)
	}
	viper.SetDefault(key, defaultValue)
	configEnvs[key] = envVariable
}

// GetConfig returns the env-variable/value pairs for the config, with secrets masked
func GetConfig() map[string]string {
	config := make(map[string]string)
	for k, v := range configEnvs {
		value := viper.GetString(k)
		if sensitiveKeys[k] && value != "" {
			value = "***"
		}
		config[v] = value
	}
	return config
}

// GetInt returns the value associated with the key as an integer.
func GetInt(key string) int { return viper.GetInt(key) }

// GetInt64 returns the value associated with the key as an integer.
func GetInt64(key string) int64 { return viper.GetInt64(key) }

// GetUint16 returns the value associated with the key as an uint16.
func GetUint16(key string) uint16 { return viper.GetUint16(key) }

// GetString returns the value associated with the key as a string.
func GetString(key string) string { return viper.GetString(key) }

// GetBool returns the value associated with the key as a boolean.
func GetBool(key string) bool { return viper.GetBool(key) }

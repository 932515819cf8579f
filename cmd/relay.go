package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flashbots/engine-relay/common"
	"github.com/flashbots/engine-relay/config"
	"github.com/flashbots/engine-relay/datastore"
	"github.com/flashbots/engine-relay/executionclient"
	"github.com/flashbots/engine-relay/metrics"
	"github.com/flashbots/engine-relay/services/relay"
	"github.com/flashbots/engine-relay/tracing"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var relayServerTimeouts = common.HTTPServerTimeouts{
	ReadHeader: 2 * time.Second,
	Idle:       60 * time.Second,
}

func init() {
	rootCmd.AddCommand(relayCmd)
	relayCmd.Flags().Bool("json", config.DefaultLogJSON, "log in JSON format instead of text")
	relayCmd.Flags().String("log-level", config.DefaultLogLevel, "log-level: trace, debug, info, warn/warning, error, fatal, panic")
	relayCmd.Flags().String("log-tag", "", "if set, a 'tag' field will be added to all log entries")
	relayCmd.Flags().String("listen-addr", config.DefaultListenAddr, "listen address for the JSON-RPC server")
	relayCmd.Flags().Int("payload-cache-size", config.DefaultPayloadCacheSize, "number of build jobs kept for payload retrieval")
	relayCmd.Flags().String("payload-id-policy", config.DefaultPayloadIDPolicy, "payload id handed out when both backends build: canonical-first or builder-first")
	relayCmd.Flags().Bool("metrics", config.DefaultMetricsEnabled, "serve prometheus metrics on /metrics")
	relayCmd.Flags().Bool("tracing", config.DefaultTracingEnabled, "install an OpenTelemetry tracer provider")

	addBackendFlags(relayCmd, config.PrefixBuilder, "building")
	addBackendFlags(relayCmd, config.PrefixL2, "canonical")
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Start the engine API relay",
	PreRun: func(cmd *cobra.Command, args []string) {
		_ = viper.BindPFlag(config.KeyLogJSON, cmd.Flags().Lookup("json"))
		_ = viper.BindPFlag(config.KeyLogLevel, cmd.Flags().Lookup("log-level"))
		_ = viper.BindPFlag(config.KeyLogTag, cmd.Flags().Lookup("log-tag"))
		_ = viper.BindPFlag(config.KeyListenAddr, cmd.Flags().Lookup("listen-addr"))
		_ = viper.BindPFlag(config.KeyPayloadCacheSize, cmd.Flags().Lookup("payload-cache-size"))
		_ = viper.BindPFlag(config.KeyPayloadIDPolicy, cmd.Flags().Lookup("payload-id-policy"))
		_ = viper.BindPFlag(config.KeyMetricsEnabled, cmd.Flags().Lookup("metrics"))
		_ = viper.BindPFlag(config.KeyTracingEnabled, cmd.Flags().Lookup("tracing"))
		bindBackendFlags(cmd, config.PrefixBuilder)
		bindBackendFlags(cmd, config.PrefixL2)
	},
	Run: func(cmd *cobra.Command, args []string) {
		log, err := common.LogSetup(config.GetBool(config.KeyLogJSON), config.GetString(config.KeyLogLevel))
		if err != nil {
			logrus.WithError(err).Fatal("invalid logging config")
		}
		log = log.WithFields(logrus.Fields{
			"service": "engine-relay",
			"version": Version,
		})
		if tag := config.GetString(config.KeyLogTag); tag != "" {
			log = log.WithField("tag", tag)
		}
		log.Infof("engine-relay %s", Version)
		log.WithField("config", config.GetConfig()).Debug("loaded config")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if config.GetBool(config.KeyMetricsEnabled) {
			if err := metrics.Setup(ctx); err != nil {
				log.WithError(err).Fatal("failed to set up metrics")
			}
		}

		if config.GetBool(config.KeyTracingEnabled) {
			shutdown, err := tracing.Setup(ctx, "engine-relay")
			if err != nil {
				log.WithError(err).Fatal("failed to set up tracing")
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.WithError(err).Warn("failed to shut down tracer provider")
				}
			}()
		}

		// Execution backends
		clients := make(map[common.BackendID]*executionclient.ExecutionClient, 2)
		for _, backend := range []struct {
			prefix string
			id     common.BackendID
		}{
			{config.PrefixBuilder, common.BackendBuilding},
			{config.PrefixL2, common.BackendCanonical},
		} {
			cfg, err := backendConfig(backend.prefix, backend.id)
			if err != nil {
				log.WithError(err).Fatalf("invalid %s backend config", backend.id)
			}
			client, err := executionclient.NewExecutionClient(log, cfg)
			if err != nil {
				log.WithError(err).Fatalf("failed to create %s backend client", backend.id)
			}
			defer client.Close()
			clients[backend.id] = client

			log.WithFields(logrus.Fields{
				"backend":   backend.id.String(),
				"http":      cfg.HTTP.URL(),
				"auth":      cfg.Auth.URL(),
				"timeoutMs": cfg.Timeout.Milliseconds(),
			}).Info("using execution backend")
		}

		store, err := datastore.NewPayloadStore(config.GetInt(config.KeyPayloadCacheSize))
		if err != nil {
			log.WithError(err).Fatal("failed to create payload store")
		}

		policy, err := relay.ParsePayloadIDPolicy(config.GetString(config.KeyPayloadIDPolicy))
		if err != nil {
			log.WithError(err).Fatal("invalid payload id policy")
		}

		engineRelay, err := relay.NewRelay(relay.RelayOpts{
			Log:             log,
			Builder:         clients[common.BackendBuilding],
			Canonical:       clients[common.BackendCanonical],
			Store:           store,
			PayloadIDPolicy: policy,
		})
		if err != nil {
			log.WithError(err).Fatal("failed to create relay")
		}

		listenAddr := config.GetString(config.KeyListenAddr)
		srv, err := relay.NewServer(relay.ServerOpts{
			Log:            log,
			ListenAddr:     listenAddr,
			Relay:          engineRelay,
			MetricsEnabled: config.GetBool(config.KeyMetricsEnabled),
			Timeouts:       relayServerTimeouts,
		})
		if err != nil {
			log.WithError(err).Fatal("failed to create server")
		}

		// Create a signal handler
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-sigs
			log.Infof("signal received: %s", sig)
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := srv.StopServer(shutdownCtx); err != nil {
				log.WithError(err).Error("error stopping server")
			}
		}()

		log.Infof("JSON-RPC server starting on %s with payload id policy %s", listenAddr, policy)
		if err := srv.StartServer(); err != nil {
			log.WithError(err).Fatal("server error")
		}
		log.Info("bye")
	},
}

package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mateusfdl/infisical/internal/api"
	"github.com/mateusfdl/infisical/internal/collabclient"
	"github.com/mateusfdl/infisical/internal/executor"
	"github.com/mateusfdl/infisical/internal/metrics"
	"github.com/mateusfdl/infisical/internal/pipeline"
	"github.com/mateusfdl/infisical/internal/pool"
	"github.com/mateusfdl/infisical/internal/registry"
	"github.com/mateusfdl/infisical/internal/resolver"
	"github.com/mateusfdl/infisical/internal/tunnel"
)

const collaboratorTimeout = 10 * time.Second

type serverCmd struct {
	addr          string
	storeAddr     string
	vaultAddr     string
	gatewayAddr   string
	maxIdle       time.Duration
	healthCheck   time.Duration
	shutdownGrace time.Duration
}

func (c *serverCmd) validate() error {
	return nil
}

func (c *serverCmd) run() error {
	logger := log.Logger

	storeClient := collabclient.New(c.storeAddr, collaboratorTimeout)
	vaultClient := collabclient.New(c.vaultAddr, collaboratorTimeout)
	gatewayClient := collabclient.New(c.gatewayAddr, collaboratorTimeout)

	res := resolver.New(storeClient, storeClient.Accounts(), storeClient.Resources(), vaultClient, gatewayClient, logger)
	builder := tunnel.New(logger)
	exec := executor.New(logger)
	reg := registry.New(logger)
	pl := pipeline.New(res, builder, exec, reg, logger)

	connPool := pool.New(pool.Config{MaxIdle: c.maxIdle, HealthCheckInterval: c.healthCheck}, logger)
	m := metrics.New()

	a := api.New(pl, reg, connPool, storeClient, m, logger)

	httpSrv := &http.Server{Addr: c.addr, Handler: a.Router()}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", c.addr).Msg("pam query core listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.shutdownGrace)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("http server did not shut down cleanly")
	}
	reg.CloseAll()
	connPool.Shutdown(ctx)

	return nil
}

// NewServerCmd builds the `serve` subcommand: starts the HTTP API over
// the Session Pipeline, Tunnel Registry, and Direct Connection Pool, and
// drains both on SIGINT/SIGTERM.
func NewServerCmd() *cobra.Command {
	c := &serverCmd{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the PAM query core's HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.validate(); err != nil {
				return err
			}
			return c.run()
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&c.addr, "addr", "", envOr("PAM_ADDR", ":8080"), "Address the HTTP API listens on")
	flags.StringVarP(&c.storeAddr, "store-addr", "", envOr("PAM_STORE_ADDR", "http://localhost:9001"), "Base URL of the session/account/resource store")
	flags.StringVarP(&c.vaultAddr, "vault-addr", "", envOr("PAM_VAULT_ADDR", "http://localhost:9002"), "Base URL of the credential vault")
	flags.StringVarP(&c.gatewayAddr, "gateway-addr", "", envOr("PAM_GATEWAY_ADDR", "http://localhost:9003"), "Base URL of the gateway-v2 service")
	flags.DurationVarP(&c.maxIdle, "pool-max-idle", "", pool.DefaultMaxIdle, "Idle eviction threshold for the direct connection pool")
	flags.DurationVarP(&c.healthCheck, "pool-health-interval", "", pool.DefaultHealthCheckInterval, "Health-check sweep interval for the direct connection pool")
	flags.DurationVarP(&c.shutdownGrace, "shutdown-grace", "", 15*time.Second, "Grace period for draining in-flight requests on shutdown")
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

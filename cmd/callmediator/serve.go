package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hamzaKhattat/call-mediator/internal/call"
	"github.com/hamzaKhattat/call-mediator/internal/health"
	"github.com/hamzaKhattat/call-mediator/internal/provider"
	"github.com/hamzaKhattat/call-mediator/pkg/errors"
	"github.com/hamzaKhattat/call-mediator/pkg/logger"
	"github.com/spf13/cobra"
)

func createServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the mediator with loopback providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			return runServer(ctx)
		},
	}
}

func runServer(ctx context.Context) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.stop()

	if err := a.start(ctx, provider.DefaultOptions()); err != nil {
		return err
	}

	errCh := make(chan error, 2)

	if cfg.Monitoring.Metrics.Enabled {
		go func() {
			if err := a.metrics.ServeHTTP(cfg.Monitoring.Metrics.Port); err != nil {
				errCh <- errors.Wrap(err, errors.ErrInternal, "metrics server failed")
			}
		}()
	}

	var healthSvc *health.HealthService
	if cfg.Monitoring.Health.Enabled {
		healthSvc = newHealthService(a)
		go func() {
			if err := healthSvc.Start(); err != nil {
				errCh <- errors.Wrap(err, errors.ErrInternal, "health server failed")
			}
		}()
	}

	logger.WithFields(map[string]interface{}{
		"providers": a.providerNames(),
		"accounts":  len(cfg.Accounts),
		"store":     cfg.Store.Enabled,
	}).Info("Call mediator started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("Shutting down")
	case err = <-errCh:
		logger.WithError(err).Error("Server error, shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if stopErr := a.metrics.Stop(shutdownCtx); stopErr != nil {
		logger.WithError(stopErr).Warn("Failed to stop metrics server")
	}
	if healthSvc != nil {
		if stopErr := healthSvc.Stop(); stopErr != nil {
			logger.WithError(stopErr).Warn("Failed to stop health service")
		}
	}
	return err
}

func newHealthService(a *app) *health.HealthService {
	hs := health.NewHealthService(cfg.Monitoring.Health.Port)

	hs.RegisterLivenessCheck("orchestrator", health.CheckFunc(func(ctx context.Context) error {
		return a.orch.Flush(ctx)
	}))
	hs.RegisterReadinessCheck("audio", health.CheckFunc(func(ctx context.Context) error {
		return a.audio.Sync(ctx)
	}))
	if a.database != nil {
		hs.RegisterReadinessCheck("database", health.CheckFunc(func(ctx context.Context) error {
			if !a.database.IsHealthy() {
				return errors.New(errors.ErrDatabase, "database unhealthy")
			}
			return nil
		}))
	}
	if a.cache != nil && a.cache.Enabled() {
		hs.RegisterReadinessCheck("redis", health.CheckFunc(a.cache.Ping))
	}

	hs.Handle("/calls", func(w http.ResponseWriter, r *http.Request) {
		var states []call.State
		for _, name := range r.URL.Query()["state"] {
			st, ok := call.ParseState(strings.ToUpper(name))
			if !ok {
				http.Error(w, "unknown call state: "+name, http.StatusBadRequest)
				return
			}
			states = append(states, st)
		}

		calls, err := a.orch.Calls(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if len(states) > 0 {
			filtered := calls[:0]
			for _, c := range calls {
				if c.State.In(states...) {
					filtered = append(filtered, c)
				}
			}
			calls = filtered
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(calls)
	})
	hs.Handle("/audio", func(w http.ResponseWriter, r *http.Request) {
		state, err := a.orch.AudioState()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"route":     state.Route.String(),
			"supported": state.Supported.String(),
			"muted":     state.Muted,
		})
	})
	return hs
}

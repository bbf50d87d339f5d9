package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"

	"github.com/relaybot/engine/internal/engine"
	"github.com/relaybot/engine/internal/health"
	"github.com/relaybot/engine/internal/pkg/logs"
)

func runCmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "run the distribution engine",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:  "health-addr",
				Usage: "bind address for the /health and /metrics endpoints",
				Value: ":8080",
			},
		},
		Action: runAction,
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	cfgPath, err := initLoggerFromPath(ctx, cmd)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logs.CtxInfo(ctx, "booting relaybot, using config file: %s", cfgPath)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eng, err := engine.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	if err := eng.Start(ctx); err != nil {
		cancel()
		_ = eng.Stop(context.Background())
		return fmt.Errorf("start engine: %w", err)
	}

	httpSrv := startHealthServer(cmd.String("health-addr"), eng)

	logs.CtxInfo(ctx, "relaybot is running. press Ctrl+C to stop.")

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	select {
	case sig := <-signalCh:
		logs.CtxInfo(ctx, "received shutdown signal (%s), stopping...", sig.String())
	case <-ctx.Done():
		logs.CtxInfo(ctx, "context canceled, stopping...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logs.CtxWarn(ctx, "shutdown health server: %v", err)
	}

	if err := eng.Stop(context.Background()); err != nil {
		logs.CtxError(ctx, "stop engine: %v", err)
	}

	logs.CtxInfo(ctx, "all stopped, goodbye")
	return nil
}

// healthEndpoint exposes the engine's health.Checker as JSON, and
// healthCheckerSource is implemented by *engine.Engine so the endpoint can
// reach it without the engine package importing net/http.
type healthCheckerSource interface {
	HealthStatus(ctx context.Context) health.Status
}

func startHealthServer(addr string, eng healthCheckerSource) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := eng.HealthStatus(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !status.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Error("health server stopped: %v", err)
		}
	}()
	return srv
}

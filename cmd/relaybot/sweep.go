package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/relaybot/engine/internal/cronjob"
	"github.com/relaybot/engine/internal/pkg/logs"
	"github.com/relaybot/engine/internal/retention"
	"github.com/relaybot/engine/internal/store/postgres"
)

// sweepCmd runs a single retention pass and exits, for deployments that
// prefer an external cron trigger over the engine's own scheduled sweeper.
func sweepCmd() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "run one retention sweep pass and exit",
		Flags: []cli.Flag{configFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd.String("config"))
			if err != nil {
				return err
			}

			store, err := postgres.Open(ctx, cfg.Store)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			sweeper := retention.New(store, cronjob.ScheduleCron, cfg.Retention.Interval)
			sweeper.Sweep(ctx)

			logs.CtxInfo(ctx, "sweep: one pass complete")
			return nil
		},
	}
}

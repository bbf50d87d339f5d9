package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/relaybot/engine/internal/pkg/logs"
	"github.com/relaybot/engine/internal/store/postgres"
)

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply the durable store schema",
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

			if err := store.MigrateSchema(ctx); err != nil {
				return fmt.Errorf("migrate schema: %w", err)
			}

			logs.CtxInfo(ctx, "migrate: schema applied")
			return nil
		},
	}
}

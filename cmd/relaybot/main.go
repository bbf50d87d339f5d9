package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/relaybot/engine/internal/pkg/logs"
)

func main() {
	cmd := &cli.Command{
		Name:  "relaybot",
		Usage: "Telegram message distribution engine",
		Commands: []*cli.Command{
			runCmd(),
			migrateCmd(),
			sweepCmd(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logs.Error("command execution failed: %v", err)
		os.Exit(1)
	}
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to the runtime config file",
		Value:   "config.yaml",
	}
}

func initLoggerFromPath(ctx context.Context, cmd *cli.Command) (string, error) {
	cfgPath := cmd.String("config")
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return "", err
	}
	if err := logs.Init(logs.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		File:       cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
	}); err != nil {
		return "", err
	}
	return cfgPath, nil
}

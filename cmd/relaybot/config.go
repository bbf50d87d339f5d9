package main

import (
	"fmt"
	"os"

	"github.com/relaybot/engine/internal/config"
	"github.com/relaybot/engine/internal/consts"
)

// resolveConfigPath mirrors the teacher's getConfigPath: an explicit flag
// value wins, otherwise prefer a config.yaml in the working directory and
// fall back to the per-user default under consts.HomeDir.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" && flagValue != "config.yaml" {
		return flagValue
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	if _, err := os.Stat(consts.DefaultConfigPath()); err == nil {
		return consts.DefaultConfigPath()
	}
	return flagValue
}

func loadConfig(path string) (*config.Config, error) {
	path = resolveConfigPath(path)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

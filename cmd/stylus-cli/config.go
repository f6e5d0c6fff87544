package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"

	"github.com/naoina/toml"

	"github.com/availproject/avail-nitro-adapter/native"
	"github.com/availproject/avail-nitro-adapter/types"
)

type logConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

type cliConfig struct {
	DB        string             `toml:"db"`
	Multicall string             `toml:"multicall_address"`
	Engine    native.Config      `toml:"engine"`
	Program   types.StylusConfig `toml:"program"`
	Log       logConfig          `toml:"log"`
}

func defaultConfig() cliConfig {
	return cliConfig{
		DB:        "./stylus.db",
		Multicall: "0x0000000000000000000000000000000000000100",
		Engine:    native.DefaultConfig(),
		Program:   types.ConfigForVersion(1),
		Log: logConfig{
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

func loadConfig(file string, cfg *cliConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	err = toml.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	var lineErr *toml.LineError
	if errors.As(err, &lineErr) {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

func validateConfig(cfg *cliConfig) error {
	if cfg.DB == "" {
		return fmt.Errorf("database path is empty")
	}
	if _, err := types.AddressFromString(cfg.Multicall); err != nil {
		return fmt.Errorf("invalid multicall address: %w", err)
	}
	if cfg.Program.Version > types.MaxSupportedVersion {
		return fmt.Errorf("unsupported program version: %d", cfg.Program.Version)
	}
	if cfg.Program.Pricing.InkPrice == 0 {
		return fmt.Errorf("ink price must be positive")
	}
	if cfg.Engine.CacheSize <= 0 {
		return fmt.Errorf("invalid cache size: %d", cfg.Engine.CacheSize)
	}
	return nil
}

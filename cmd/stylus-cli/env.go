package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/availproject/avail-nitro-adapter/bridge"
	"github.com/availproject/avail-nitro-adapter/native"
	"github.com/availproject/avail-nitro-adapter/programs/multicall"
	"github.com/availproject/avail-nitro-adapter/state"
	"github.com/availproject/avail-nitro-adapter/types"
)

// env is everything a command needs to run programs.
type env struct {
	engine *native.Engine
	store  *state.Store
	api    *state.API
	bridge *bridge.Bridge
	host   *bridge.Host
}

func newEnv(ctx context.Context, self types.Address) (*env, error) {
	engine, err := native.NewEngine(ctx, cfg.Engine, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	store, err := state.Open(cfg.DB)
	if err != nil {
		_ = engine.Close(ctx)
		return nil, err
	}

	api := state.NewAPI(store, engine, slog.Default(), self)
	multicallAddr, _ := types.AddressFromString(cfg.Multicall)
	api.RegisterNative(multicallAddr, multicall.Run)

	b := bridge.New(engine, slog.Default(), bridge.WithEvmAPI(api))
	return &env{
		engine: engine,
		store:  store,
		api:    api,
		bridge: b,
		host:   bridge.NewHost(b),
	}, nil
}

func (e *env) Close(ctx context.Context) {
	if err := e.store.Close(); err != nil {
		slog.Warn("failed to close database", "error", err)
	}
	if err := e.engine.Close(ctx); err != nil {
		slog.Warn("failed to close engine", "error", err)
	}
}

var title = cases.Title(language.English)

func printStatus(status types.OutcomeKind) {
	label := title.String(status.String())
	switch status {
	case types.Success:
		color.Green("Status: %s", label)
	case types.Revert:
		color.Yellow("Status: %s", label)
	default:
		color.Red("Status: %s", label)
	}
}

func parseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return data, nil
}

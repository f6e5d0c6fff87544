package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/availproject/avail-nitro-adapter/native"
	"github.com/availproject/avail-nitro-adapter/types"
)

// MaxCallDepth bounds the nesting of calls between programs.
const MaxCallDepth = 1024

var (
	// ErrReverted is returned when the callee reverts; the return data is
	// the revert payload.
	ErrReverted = errors.New("execution reverted")
	// ErrCallDepth is returned when a call would exceed MaxCallDepth.
	ErrCallDepth = errors.New("max call depth exceeded")
	// ErrWriteProtection is returned for value transfers inside a static call.
	ErrWriteProtection = errors.New("write protection")
)

// NativeProgram is a program implemented in Go and installed at an
// address. It reports the gas it used.
type NativeProgram func(ctx context.Context, evm native.EvmAPI, input []byte, gas uint64) (ret []byte, cost uint64, err error)

type world struct {
	store   *Store
	engine  *native.Engine
	logger  *slog.Logger
	mu      sync.RWMutex
	natives map[types.Address]NativeProgram
}

// API serves the contract-call hostios of one running program. Nested
// callees get their own API.
type API struct {
	w      *world
	self   types.Address
	depth  uint32
	static bool
}

var _ native.EvmAPI = (*API)(nil)

// NewAPI creates the API of a top-level program running at self.
func NewAPI(store *Store, engine *native.Engine, logger *slog.Logger, self types.Address) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		w: &world{
			store:   store,
			engine:  engine,
			logger:  logger,
			natives: make(map[types.Address]NativeProgram),
		},
		self: self,
	}
}

// RegisterNative installs a Go program at addr. It takes precedence over
// deployed code.
func (a *API) RegisterNative(addr types.Address, program NativeProgram) {
	a.w.mu.Lock()
	defer a.w.mu.Unlock()
	a.w.natives[addr] = program
}

func (a *API) nativeAt(addr types.Address) (NativeProgram, bool) {
	a.w.mu.RLock()
	defer a.w.mu.RUnlock()
	program, ok := a.w.natives[addr]
	return program, ok
}

// Self returns the address the program using this API runs at.
func (a *API) Self() types.Address {
	return a.self
}

func (a *API) ContractCall(ctx context.Context, contract types.Address, calldata []byte, gas uint64, value types.Bytes32) ([]byte, uint64, error) {
	child := &API{w: a.w, self: contract, depth: a.depth + 1, static: a.static}
	return a.call(ctx, "call", child, contract, calldata, gas, value)
}

// DelegateCall runs contract's code on behalf of the caller.
func (a *API) DelegateCall(ctx context.Context, contract types.Address, calldata []byte, gas uint64) ([]byte, uint64, error) {
	child := &API{w: a.w, self: a.self, depth: a.depth + 1, static: a.static}
	return a.call(ctx, "delegatecall", child, contract, calldata, gas, types.ZeroBytes32)
}

func (a *API) StaticCall(ctx context.Context, contract types.Address, calldata []byte, gas uint64) ([]byte, uint64, error) {
	child := &API{w: a.w, self: contract, depth: a.depth + 1, static: true}
	return a.call(ctx, "staticcall", child, contract, calldata, gas, types.ZeroBytes32)
}

func (a *API) call(ctx context.Context, kind string, child *API, contract types.Address, calldata []byte, gas uint64, value types.Bytes32) ([]byte, uint64, error) {
	logger := a.w.logger.With("kind", kind, "caller", a.self, "contract", contract, "depth", child.depth)
	if child.depth > MaxCallDepth {
		return nil, 0, ErrCallDepth
	}

	amount := new(uint256.Int).SetBytes32(value[:])
	if !amount.IsZero() {
		if a.static {
			return nil, 0, ErrWriteProtection
		}
		if err := a.w.store.Transfer(a.self, contract, amount); err != nil {
			return nil, 0, errors.Wrap(err, "value transfer failed")
		}
	}

	ret, cost, status, err := child.run(ctx, contract, calldata, gas)
	if err != nil && !amount.IsZero() {
		if rerr := a.w.store.Transfer(contract, a.self, amount); rerr != nil {
			logger.Error("failed to refund value", "error", rerr)
		}
	}

	record := &DBCall{
		Depth:    child.depth,
		Kind:     kind,
		Caller:   a.self.String(),
		Contract: contract.String(),
		Value:    amount.Hex(),
		Calldata: calldata,
		GasLimit: gas,
		GasUsed:  cost,
		Status:   status.String(),
		Output:   ret,
	}
	if rerr := a.w.store.recordCall(record); rerr != nil {
		logger.Warn("failed to log call", "error", rerr)
	}
	logger.Debug("call finished", "status", status, "gas", gas, "cost", cost)
	return ret, cost, err
}

// calleeConfig prices a nested program the way its caller is priced. The
// version, and with it the entry and loop costs, comes from the callee's
// code.
func calleeConfig(ctx context.Context, version uint32) types.StylusConfig {
	config := types.ConfigForVersion(version)
	if caller, ok := native.CallerConfig(ctx); ok {
		config.Depth = caller.Depth
		config.Pricing = caller.Pricing
	}
	return config
}

// run executes the program at contract with this API as its host.
func (a *API) run(ctx context.Context, contract types.Address, calldata []byte, gas uint64) ([]byte, uint64, types.OutcomeKind, error) {
	if program, ok := a.nativeAt(contract); ok {
		ret, cost, err := program(ctx, a, calldata, gas)
		cost = min(cost, gas)
		if err != nil {
			return ret, cost, types.Revert, err
		}
		return ret, cost, types.Success, nil
	}

	code, version, err := a.w.store.Code(contract)
	if errors.Is(err, ErrNoCode) {
		// calls to accounts without code succeed and do nothing
		return []byte{}, 0, types.Success, nil
	}
	if err != nil {
		return nil, 0, types.Failure, err
	}

	config := calleeConfig(ctx, version)
	module, err := a.w.engine.Compile(ctx, code, config)
	if err != nil {
		return nil, gas, types.Failure, errors.Wrap(err, "failed to compile callee")
	}
	instance, err := a.w.engine.Deserialize(ctx, module, config, a)
	if err != nil {
		return nil, gas, types.Failure, errors.Wrap(err, "failed to instantiate callee")
	}
	defer func() { _ = instance.Close(ctx) }()

	ink := config.Pricing.GasToInk(gas)
	instance.SetInk(ink)
	instance.SetStack(config.Depth.MaxDepth)
	outcome, err := instance.RunMain(ctx, calldata, config)
	if err != nil {
		return nil, gas, types.Failure, err
	}

	inkLeft := instance.InkLeft()
	if outcome.Kind == types.OutOfStack {
		inkLeft = 0
	}
	cost := gas - config.Pricing.InkToGas(inkLeft)

	switch outcome.Kind {
	case types.Success:
		return outcome.Data, cost, types.Success, nil
	case types.Revert:
		return outcome.Data, cost, types.Revert, ErrReverted
	case types.Failure:
		if outcome.Err == nil {
			return []byte{}, cost, types.Failure, errors.New("execution failed")
		}
		return []byte{}, cost, types.Failure, outcome.Err
	default:
		return []byte{}, cost, outcome.Kind, fmt.Errorf("callee ran %s", outcome.Kind)
	}
}

package native

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pkg/errors"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"

	"github.com/availproject/avail-nitro-adapter/types"
)

// meter tracks the ink budget and call depth of one running program. The
// budget lives in the program's ink global so that instrumented loops and
// the host charge the same counter.
type meter struct {
	ink      api.MutableGlobal
	status   api.MutableGlobal
	entryInk uint64
	depth    uint32
	maxDepth uint32
}

func (m *meter) left() uint64 {
	return m.ink.Get()
}

func (m *meter) set(ink uint64) {
	m.ink.Set(ink)
}

// buy charges cost ink. When the budget cannot cover it the budget is
// emptied and the run aborts.
func (m *meter) buy(cost uint64) {
	ink := m.ink.Get()
	if ink < cost {
		m.ink.Set(0)
		panic(ErrOutOfInk)
	}
	m.ink.Set(ink - cost)
}

// exhausted reports whether an instrumented loop ran out of ink.
func (m *meter) exhausted() bool {
	return m.status.Get() != 0
}

func (m *meter) enter() {
	if m.depth >= m.maxDepth {
		panic(ErrOutOfStack)
	}
	m.depth++
	m.buy(m.entryInk)
}

func (m *meter) exit() {
	if m.depth > 0 {
		m.depth--
	}
}

// runState is everything a hostio or the metering listener needs while a
// program runs. It travels in the call's context.
type runState struct {
	meter      meter
	config     types.StylusConfig
	args       []byte
	output     []byte
	returnData []byte
	api        EvmAPI
	logger     *slog.Logger
	debug      bool
}

type runStateKey struct{}

func withRunState(ctx context.Context, state *runState) context.Context {
	return context.WithValue(ctx, runStateKey{}, state)
}

func runStateFrom(ctx context.Context) *runState {
	state, _ := ctx.Value(runStateKey{}).(*runState)
	return state
}

// CallerConfig returns the config of the program whose hostio is running
// under ctx, if any.
func CallerConfig(ctx context.Context) (types.StylusConfig, bool) {
	state := runStateFrom(ctx)
	if state == nil {
		return types.StylusConfig{}, false
	}
	return state.config, true
}

// callGas caps the gas forwarded to a nested call at all but one 64th of
// what the remaining ink buys.
func (s *runState) callGas(requested uint64) uint64 {
	available := s.config.Pricing.InkToGas(s.meter.left())
	available -= available / 64
	return min(requested, available)
}

// meteringFactory attaches a meteringListener to every function defined by
// a program. It is installed when the program is compiled.
type meteringFactory struct{}

func (meteringFactory) NewFunctionListener(api.FunctionDefinition) experimental.FunctionListener {
	return meteringListener{}
}

type meteringListener struct{}

func (meteringListener) Before(ctx context.Context, _ api.Module, _ api.FunctionDefinition, _ []uint64, _ experimental.StackIterator) {
	if state := runStateFrom(ctx); state != nil {
		state.meter.enter()
	}
}

func (meteringListener) After(ctx context.Context, _ api.Module, _ api.FunctionDefinition, _ []uint64) {
	if state := runStateFrom(ctx); state != nil {
		state.meter.exit()
	}
}

func (meteringListener) Abort(ctx context.Context, _ api.Module, _ api.FunctionDefinition, _ error) {
	if state := runStateFrom(ctx); state != nil {
		state.meter.exit()
	}
}

// classify maps a trap returned by wazero onto an outcome.
func classify(err error) types.Outcome {
	switch {
	case errors.Is(err, ErrOutOfInk):
		return types.OutOfInkOutcome()
	case errors.Is(err, ErrOutOfStack), isStackOverflow(err):
		return types.OutOfStackOutcome()
	default:
		return types.FailureOutcome(err)
	}
}

// wazero reports exhaustion of its own call stack through an internal
// error type. Only its trap, never a host panic, carries the "wasm error"
// prefix.
func isStackOverflow(err error) bool {
	cause := errors.Unwrap(err)
	return cause != nil && cause.Error() == "stack overflow" &&
		strings.HasPrefix(err.Error(), "wasm error: stack overflow\n")
}

// Package bridge implements the entry points a host runtime calls to
// compile and execute programs. Arguments and results cross the boundary
// on the host's stack (see gostack); native values cross it as handles.
//
// Every module, config and buffer handle the bridge writes must be passed
// back exactly once: modules and configs to CallUserWasm, buffers to
// RustVecIntoSlice.
package bridge

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/availproject/avail-nitro-adapter/gostack"
	"github.com/availproject/avail-nitro-adapter/handles"
	"github.com/availproject/avail-nitro-adapter/native"
	"github.com/availproject/avail-nitro-adapter/types"
)

// Module is a serialized program, as issued by CompileUserWasm.
type Module []byte

// Bridge serves the entry points.
type Bridge struct {
	engine   *native.Engine
	registry *handles.Registry
	evm      native.EvmAPI
	logger   *slog.Logger
	metrics  *metrics
}

// Option configures a Bridge.
type Option func(*options)

type options struct {
	evm        native.EvmAPI
	registry   *handles.Registry
	registerer prometheus.Registerer
}

// WithEvmAPI sets the collaborator that serves the contract-call hostios.
// Without one, calls from programs fail.
func WithEvmAPI(evm native.EvmAPI) Option {
	return func(o *options) { o.evm = evm }
}

// WithRegistry shares a handle registry between bridges.
func WithRegistry(registry *handles.Registry) Option {
	return func(o *options) { o.registry = registry }
}

// WithRegisterer sets where the bridge's metrics are registered.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// New creates a bridge on top of engine.
func New(engine *native.Engine, logger *slog.Logger, opts ...Option) *Bridge {
	o := options{
		registry:   handles.NewRegistry(),
		registerer: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		engine:   engine,
		registry: o.registry,
		evm:      o.evm,
		logger:   logger,
		metrics:  newMetrics(o.registerer, o.registry),
	}
}

// Registry returns the handle registry.
func (b *Bridge) Registry() *handles.Registry {
	return b.registry
}

// CompileUserWasm compiles and instruments a program. Exactly one of the
// two result slots is non-null: the module on success, a diagnostic
// buffer on failure.
func (b *Bridge) CompileUserWasm(ctx context.Context, mem gostack.Memory, sp uint32) {
	s := gostack.New(mem, sp, compileLayout)
	wasm := s.ReadGoSliceOwned()
	config := types.ConfigForVersion(s.ReadU32())
	s.SkipSpace()

	module, err := b.engine.Compile(ctx, wasm, config)
	if err != nil {
		diagnostic := []byte(errors.Wrap(err, "failed to compile").Error())
		s.WriteNullptr()
		s.WritePtr(b.registry.Heapify(diagnostic))
		s.Done()
		b.metrics.compiled(false)
		b.logger.Debug("compile failed", "version", config.Version, "error", err)
		return
	}
	handle := b.registry.Heapify(Module(module))
	s.WritePtr(handle)
	s.WriteNullptr()
	s.Done()
	b.metrics.compiled(true)
	b.logger.Debug("compiled program", "version", config.Version, "handle", handle, "size", len(module))
}

// CallUserWasm executes a program. The module and config handles are
// consumed. The gas word in host memory is replaced with the gas left
// after the run; running out of stack forfeits all of it.
func (b *Bridge) CallUserWasm(ctx context.Context, mem gostack.Memory, sp uint32) {
	s := gostack.New(mem, sp, callLayout)
	module := handles.Reclaim[Module](b.registry, s.ReadPtr())
	calldata := s.ReadGoSliceOwned()
	config := handles.Reclaim[types.StylusConfig](b.registry, s.ReadPtr())

	pricing := config.Pricing
	gas := s.ReadPtr()
	gasIn := s.ReadU64Raw(gas)
	ink := pricing.GasToInk(gasIn)

	// reserved for a state root the engine has no use for
	s.SkipU64()

	instance, err := b.engine.Deserialize(ctx, module, config, b.evm)
	if err != nil {
		panic(errors.Wrap(err, "failed to instantiate program"))
	}
	defer func() {
		if err := instance.Close(ctx); err != nil {
			b.logger.Warn("failed to close program instance", "error", err)
		}
	}()
	instance.SetInk(ink)
	instance.SetStack(config.Depth.MaxDepth)

	outcome, err := instance.RunMain(ctx, calldata, config)
	var (
		status types.OutcomeKind
		out    []byte
	)
	if err != nil || outcome.Kind == types.Failure {
		cause := err
		if cause == nil {
			cause = outcome.Err
		}
		if cause == nil {
			cause = errors.New("unknown failure")
		}
		status = types.Failure
		out = []byte(errors.Wrap(cause, "failed to execute program").Error())
	} else {
		status, out = outcome.IntoData()
	}
	s.WriteU8(uint8(status)).SkipSpace()
	handle := b.registry.Heapify(out)
	s.WritePtr(handle)
	s.Done()

	inkLeft := instance.InkLeft()
	if status == types.OutOfStack {
		inkLeft = 0
	}
	gasLeft := pricing.InkToGas(inkLeft)
	s.WriteU64Raw(gas, gasLeft)

	b.metrics.executed(status, ink-inkLeft)
	b.logger.Debug("executed program", "status", status, "gas", gasIn, "gasLeft", gasLeft, "out", handle, "len", len(out))
}

// ReadRustVecLen returns the length of a buffer without consuming it.
func (b *Bridge) ReadRustVecLen(_ context.Context, mem gostack.Memory, sp uint32) {
	s := gostack.New(mem, sp, bufferLenLayout)
	buf := handles.Borrow[[]byte](b.registry, s.ReadPtr())
	s.WriteU32(uint32(len(buf)))
	s.Done()
}

// RustVecIntoSlice copies a buffer into host memory and releases it. The
// host must have allocated at least ReadRustVecLen bytes at dest.
func (b *Bridge) RustVecIntoSlice(_ context.Context, mem gostack.Memory, sp uint32) {
	s := gostack.New(mem, sp, bufferDrainLayout)
	buf := handles.Reclaim[[]byte](b.registry, s.ReadPtr())
	dest := s.ReadPtr()
	s.WriteSlice(dest, buf)
	s.Done()
}

// RustConfigImpl builds a config from its component parts and returns a
// handle to it.
func (b *Bridge) RustConfigImpl(_ context.Context, mem gostack.Memory, sp uint32) {
	s := gostack.New(mem, sp, configLayout)
	version := s.ReadU32()
	maxDepth := s.ReadU32()
	inkPrice := s.ReadU64()
	hostioInk := s.ReadU64()
	config := types.NewConfig(version, maxDepth, inkPrice, hostioInk)
	s.WritePtr(b.registry.Heapify(config))
	s.Done()
}

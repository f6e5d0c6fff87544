// Package native runs compiled programs under an ink budget on wazero.
//
// A program is a wasm module that imports hostios from the vm_hooks
// namespace and exports its memory and user_entrypoint(args_len) -> status.
// Every function a program defines is metered on entry, every loop
// iteration pays for the instructions it runs, and hostios charge a flat
// price plus the gas their nested calls consume.
package native

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"

	"github.com/availproject/avail-nitro-adapter/types"
)

// Engine compiles and instantiates programs. It is safe for concurrent
// use; the instances it returns are not.
type Engine struct {
	config  Config
	logger  *slog.Logger
	runtime wazero.Runtime
	hostio  api.Module
	cache   *lru.Cache[[32]byte, *cachedModule]
	seq     atomic.Uint64
}

// NewEngine creates an engine with its own wazero runtime.
func NewEngine(ctx context.Context, config Config, logger *slog.Logger) (*Engine, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	runtimeConfig := wazero.NewRuntimeConfigInterpreter().
		WithCoreFeatures(api.CoreFeaturesV2.SetEnabled(api.CoreFeatureSIMD, false)).
		WithMemoryLimitPages(config.MemoryLimitPages)
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	cache, err := lru.NewWithEvict(config.CacheSize, func(_ [32]byte, cached *cachedModule) {
		cached.evict()
	})
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("failed to create module cache: %w", err)
	}

	e := &Engine{
		config:  config,
		logger:  logger,
		runtime: runtime,
		cache:   cache,
	}
	if e.hostio, err = e.instantiateHostio(ctx); err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate hostio module: %w", err)
	}
	return e, nil
}

// Close releases the runtime and every cached module.
func (e *Engine) Close(ctx context.Context) error {
	e.cache.Purge()
	if err := e.runtime.Close(ctx); err != nil {
		return fmt.Errorf("failed to close runtime: %w", err)
	}
	return nil
}

// cachedModule is a compiled program shared by every instantiation of it.
// It is closed once it has been evicted and nothing is instantiating it.
type cachedModule struct {
	compiled wazero.CompiledModule
	mu       sync.Mutex
	refs     int
	evicted  bool
}

func (c *cachedModule) acquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.evicted {
		return false
	}
	c.refs++
	return true
}

func (c *cachedModule) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs--
	if c.evicted && c.refs == 0 {
		_ = c.compiled.Close(context.Background())
	}
}

func (c *cachedModule) evict() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evicted = true
	if c.refs == 0 {
		_ = c.compiled.Close(context.Background())
	}
}

// Compile validates and instruments a program and returns its serialized
// module. The error describes why the bytecode was rejected.
func (e *Engine) Compile(ctx context.Context, wasm []byte, config types.StylusConfig) ([]byte, error) {
	if config.Version > types.MaxSupportedVersion {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "version %d", config.Version)
	}
	instrumented, err := instrument(wasm, config.OpcodeInk())
	if err != nil {
		return nil, err
	}
	checksum := sha256.Sum256(instrumented)
	cached, err := e.compiled(ctx, checksum, instrumented)
	if err != nil {
		return nil, err
	}
	cached.release()

	module, err := encodeModule(config.Version, checksum, instrumented)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("compiled program", "checksum", fmt.Sprintf("%x", checksum), "version", config.Version, "size", len(wasm))
	return module, nil
}

// compiled returns the compiled form of wasm, compiling and checking it on
// a cache miss. The caller must release the result.
func (e *Engine) compiled(ctx context.Context, checksum [32]byte, wasm []byte) (*cachedModule, error) {
	for {
		if cached, ok := e.cache.Get(checksum); ok {
			if cached.acquire() {
				return cached, nil
			}
			// evicted since the lookup
			continue
		}
		if hasStartSection(wasm) {
			return nil, ErrStartFunction
		}
		metered := context.WithValue(ctx, experimental.FunctionListenerFactoryKey{}, meteringFactory{})
		compiled, err := e.runtime.CompileModule(metered, wasm)
		if err != nil {
			return nil, err
		}
		if err := checkCompiled(compiled); err != nil {
			_ = compiled.Close(ctx)
			return nil, err
		}
		cached := &cachedModule{compiled: compiled, refs: 1}
		if found, _ := e.cache.ContainsOrAdd(checksum, cached); found {
			// lost a race with another compile of the same program
			_ = compiled.Close(ctx)
			continue
		}
		return cached, nil
	}
}

// Deserialize instantiates a module produced by Compile under config. A
// failure means the module did not come from a matching Compile.
func (e *Engine) Deserialize(ctx context.Context, module []byte, config types.StylusConfig, evm EvmAPI) (*Instance, error) {
	env, checksum, err := decodeModule(module)
	if err != nil {
		return nil, err
	}
	if env.Version != config.Version {
		return nil, errors.Wrapf(ErrVersionMismatch, "module version %d, config version %d", env.Version, config.Version)
	}
	if config.Version > types.MaxSupportedVersion {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "version %d", config.Version)
	}
	cached, err := e.compiled(ctx, checksum, env.Wasm)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compile module")
	}
	defer cached.release()

	name := fmt.Sprintf("program-%d", e.seq.Add(1))
	mod, err := e.runtime.InstantiateModule(ctx, cached.compiled, wazero.NewModuleConfig().WithName(name).WithStartFunctions())
	if err != nil {
		return nil, errors.Wrap(err, "failed to instantiate module")
	}
	ink, inkOK := mod.ExportedGlobal(inkGlobalExport).(api.MutableGlobal)
	status, statusOK := mod.ExportedGlobal(statusGlobalExport).(api.MutableGlobal)
	if !inkOK || !statusOK {
		_ = mod.Close(ctx)
		return nil, errors.Wrap(ErrModuleCorrupt, "module is not metered")
	}

	return &Instance{
		module: mod,
		entry:  mod.ExportedFunction(entrypoint),
		state: &runState{
			meter: meter{
				ink:      ink,
				status:   status,
				maxDepth: config.Depth.MaxDepth,
				entryInk: config.FuncEntryInk(),
			},
			config: config,
			api:    evm,
			logger: e.logger.With("module", name),
			debug:  e.config.Debug,
		},
	}, nil
}

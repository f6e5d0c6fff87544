package bridge

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/availproject/avail-nitro-adapter/gostack"
)

// GoModule is the import namespace of a Go (js/wasm) host.
const GoModule = "go"

const symbolPrefix = "github.com/offchainlabs/nitro/arbos/programs."

// Symbols the host links its entry point stubs against.
const (
	CompileSymbol          = symbolPrefix + "compileUserWasmRustImpl"
	CallSymbol             = symbolPrefix + "callUserWasmRustImpl"
	ReadRustVecLenSymbol   = symbolPrefix + "readRustVecLenImpl"
	RustVecIntoSliceSymbol = symbolPrefix + "rustVecIntoSliceImpl"
	RustConfigSymbol       = symbolPrefix + "rustConfigImpl"
)

type entrypoint func(ctx context.Context, mem gostack.Memory, sp uint32)

func (b *Bridge) entrypoints() map[string]entrypoint {
	return map[string]entrypoint{
		CompileSymbol:          b.CompileUserWasm,
		CallSymbol:             b.CallUserWasm,
		ReadRustVecLenSymbol:   b.ReadRustVecLen,
		RustVecIntoSliceSymbol: b.RustVecIntoSlice,
		RustConfigSymbol:       b.RustConfigImpl,
	}
}

// Register instantiates the entry points as the "go" host module of
// runtime, each taking the host's stack pointer.
func (b *Bridge) Register(ctx context.Context, runtime wazero.Runtime) (api.Module, error) {
	builder := runtime.NewHostModuleBuilder(GoModule)
	for name, fn := range b.entrypoints() {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(goFunc(fn), []api.ValueType{api.ValueTypeI32}, nil).
			WithParameterNames("sp").
			Export(name)
	}
	mod, err := builder.Instantiate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate %s module: %w", GoModule, err)
	}
	return mod, nil
}

func goFunc(fn entrypoint) api.GoModuleFunc {
	return func(ctx context.Context, m api.Module, stack []uint64) {
		fn(ctx, m.Memory(), api.DecodeU32(stack[0]))
	}
}

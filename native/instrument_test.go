package native

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/availproject/avail-nitro-adapter/internal/wasmtest"
)

func TestInstrumentExportsMeteringGlobals(t *testing.T) {
	ctx := context.Background()
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer r.Close(ctx)

	for name, wasm := range map[string][]byte{
		"minimal":   wasmtest.Minimal(),
		"tightloop": wasmtest.TightLoop(),
		"countdown": wasmtest.Countdown(),
	} {
		t.Run(name, func(t *testing.T) {
			instrumented, err := instrument(wasm, 100)
			require.NoError(t, err)

			mod, err := r.InstantiateWithConfig(ctx, instrumented, wazero.NewModuleConfig().WithName(name))
			require.NoError(t, err)
			defer mod.Close(ctx)

			ink, ok := mod.ExportedGlobal(inkGlobalExport).(api.MutableGlobal)
			require.True(t, ok)
			assert.Equal(t, api.ValueTypeI64, ink.Type())
			assert.Zero(t, ink.Get())
			status, ok := mod.ExportedGlobal(statusGlobalExport).(api.MutableGlobal)
			require.True(t, ok)
			assert.Equal(t, api.ValueTypeI32, status.Type())
			assert.NotNil(t, mod.ExportedFunction(entrypoint))
		})
	}
}

func TestInstrumentTrapsWhenUnfunded(t *testing.T) {
	ctx := context.Background()
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer r.Close(ctx)

	instrumented, err := instrument(wasmtest.TightLoop(), 100)
	require.NoError(t, err)
	mod, err := r.Instantiate(ctx, instrumented)
	require.NoError(t, err)

	ink := mod.ExportedGlobal(inkGlobalExport).(api.MutableGlobal)
	ink.Set(1_050)
	_, err = mod.ExportedFunction(entrypoint).Call(ctx, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
	assert.Zero(t, ink.Get())
	assert.Equal(t, uint64(1), mod.ExportedGlobal(statusGlobalExport).Get())
}

func TestInstrumentLeavesLoopFreeCode(t *testing.T) {
	wasm := wasmtest.Minimal()
	instrumented, err := instrument(wasm, 100)
	require.NoError(t, err)

	sections, err := parseSections(wasm)
	require.NoError(t, err)
	rewritten, err := parseSections(instrumented)
	require.NoError(t, err)

	code := func(sections []section) []byte {
		for _, s := range sections {
			if s.id == sectionCode {
				return s.payload
			}
		}
		return nil
	}
	assert.Equal(t, code(sections), code(rewritten))
	assert.Len(t, rewritten, len(sections)+1)
}

func TestInstrumentRejects(t *testing.T) {
	b := wasmtest.NewBuilder()
	idx := b.Func([]byte{wasmtest.I32}, []byte{wasmtest.I32}, nil, wasmtest.I32Const(0))
	reserved := b.Memory(1).Export("user_entrypoint", idx).Export(inkGlobalExport, idx).Bytes()

	b = wasmtest.NewBuilder()
	idx = b.Func([]byte{wasmtest.I32}, []byte{wasmtest.I32}, nil, []byte{0xfd, 0x0c}, wasmtest.Drop, wasmtest.I32Const(0))
	vector := b.Memory(1).Export("user_entrypoint", idx).Bytes()

	twice, err := instrument(wasmtest.Minimal(), 100)
	require.NoError(t, err)

	minimal := wasmtest.Minimal()
	tests := []struct {
		name string
		wasm []byte
		want error
	}{
		{"empty", nil, ErrMalformedWasm},
		{"bad magic", []byte("\x00asm\x02\x00\x00\x00"), ErrMalformedWasm},
		{"truncated", minimal[:len(minimal)-3], ErrMalformedWasm},
		{"vector opcode", vector, ErrMalformedWasm},
		{"reserved export", reserved, ErrReservedExport},
		{"instrumented twice", twice, ErrReservedExport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := instrument(tt.wasm, 100)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

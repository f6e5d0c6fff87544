package bridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"

	"github.com/availproject/avail-nitro-adapter/handles"
	"github.com/availproject/avail-nitro-adapter/internal/wasmtest"
	"github.com/availproject/avail-nitro-adapter/types"
)

// goHost assembles a module that forwards run(sp) to the imported symbol,
// the way a Go (js/wasm) host calls its linknamed stubs.
func goHost(symbol string) []byte {
	b := wasmtest.NewBuilder()
	stub := b.Import(GoModule, symbol, []byte{wasmtest.I32}, nil)
	run := b.Func([]byte{wasmtest.I32}, nil, nil, wasmtest.LocalGet(0), wasmtest.Call(stub))
	return b.Memory(1).Export("run", run).Bytes()
}

func TestRegister(t *testing.T) {
	_, b := newTestHost(t)
	ctx := context.Background()

	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)
	_, err := b.Register(ctx, r)
	require.NoError(t, err)

	mod, err := r.Instantiate(ctx, goHost(RustConfigSymbol))
	require.NoError(t, err)

	const sp = 1024
	mem := mod.Memory()
	require.True(t, mem.WriteUint32Le(sp+8, 1))
	require.True(t, mem.WriteUint32Le(sp+12, 64))
	require.True(t, mem.WriteUint64Le(sp+16, 100))
	require.True(t, mem.WriteUint64Le(sp+24, 7))

	_, err = mod.ExportedFunction("run").Call(ctx, sp)
	require.NoError(t, err)

	handle, ok := mem.ReadUint64Le(sp + 32)
	require.True(t, ok)
	config := handles.Reclaim[types.StylusConfig](b.Registry(), handle)
	assert.Equal(t, types.NewConfig(1, 64, 100, 7), config)
}

func TestRegisterExportsEverySymbol(t *testing.T) {
	_, b := newTestHost(t)
	ctx := context.Background()

	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)
	_, err := b.Register(ctx, r)
	require.NoError(t, err)

	for _, symbol := range []string{CompileSymbol, CallSymbol, ReadRustVecLenSymbol, RustVecIntoSliceSymbol, RustConfigSymbol} {
		_, err := r.InstantiateWithConfig(ctx, goHost(symbol), wazero.NewModuleConfig().WithName(symbol))
		require.NoError(t, err, symbol)
	}
}

func TestRegisterProtocolViolationFailsCall(t *testing.T) {
	_, b := newTestHost(t)
	ctx := context.Background()

	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)
	_, err := b.Register(ctx, r)
	require.NoError(t, err)

	mod, err := r.Instantiate(ctx, goHost(ReadRustVecLenSymbol))
	require.NoError(t, err)

	// no buffer was ever issued under handle 99
	require.True(t, mod.Memory().WriteUint64Le(1024+8, 99))
	_, err = mod.ExportedFunction("run").Call(ctx, 1024)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid handle")
}

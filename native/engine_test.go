package native

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/availproject/avail-nitro-adapter/internal/wasmtest"
	"github.com/availproject/avail-nitro-adapter/types"
)

type recordedCall struct {
	kind     callKind
	contract types.Address
	calldata []byte
	gas      uint64
	value    types.Bytes32
}

type fakeAPI struct {
	ret   []byte
	cost  uint64
	err   error
	calls []recordedCall
}

func (f *fakeAPI) record(kind callKind, contract types.Address, calldata []byte, gas uint64, value types.Bytes32) ([]byte, uint64, error) {
	f.calls = append(f.calls, recordedCall{kind: kind, contract: contract, calldata: calldata, gas: gas, value: value})
	return f.ret, f.cost, f.err
}

func (f *fakeAPI) ContractCall(_ context.Context, contract types.Address, calldata []byte, gas uint64, value types.Bytes32) ([]byte, uint64, error) {
	return f.record(callKindCall, contract, calldata, gas, value)
}

func (f *fakeAPI) DelegateCall(_ context.Context, contract types.Address, calldata []byte, gas uint64) ([]byte, uint64, error) {
	return f.record(callKindDelegate, contract, calldata, gas, types.ZeroBytes32)
}

func (f *fakeAPI) StaticCall(_ context.Context, contract types.Address, calldata []byte, gas uint64) ([]byte, uint64, error) {
	return f.record(callKindStatic, contract, calldata, gas, types.ZeroBytes32)
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close(ctx) })
	return engine
}

func instantiate(t *testing.T, engine *Engine, wasm []byte, config types.StylusConfig, api EvmAPI) *Instance {
	t.Helper()
	ctx := context.Background()
	module, err := engine.Compile(ctx, wasm, config)
	require.NoError(t, err)
	instance, err := engine.Deserialize(ctx, module, config, api)
	require.NoError(t, err)
	t.Cleanup(func() { _ = instance.Close(ctx) })
	return instance
}

func TestCompileRejects(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	config := types.ConfigForVersion(1)

	tests := []struct {
		name string
		wasm []byte
		want error
	}{
		{"foreign import", wasmtest.ForeignImport(), ErrBadImport},
		{"wrong signature", wasmtest.WrongSignature(), ErrBadImport},
		{"no entrypoint", wasmtest.NoEntrypoint(), ErrMissingEntrypoint},
		{"start function", wasmtest.WithStart(), ErrStartFunction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			module, err := engine.Compile(ctx, tt.wasm, config)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Nil(t, module)
		})
	}

	_, err := engine.Compile(ctx, []byte("not wasm"), config)
	require.Error(t, err)

	_, err = engine.Compile(ctx, wasmtest.Minimal(), types.ConfigForVersion(2))
	assert.True(t, errors.Is(err, ErrUnsupportedVersion))
}

func TestDeserializeRejects(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	config := types.ConfigForVersion(1)

	module, err := engine.Compile(ctx, wasmtest.Minimal(), config)
	require.NoError(t, err)

	_, err = engine.Deserialize(ctx, module, types.ConfigForVersion(0), nil)
	assert.True(t, errors.Is(err, ErrVersionMismatch))

	_, err = engine.Deserialize(ctx, []byte{0xc1}, config, nil)
	assert.True(t, errors.Is(err, ErrModuleCorrupt))

	tampered, err := encodeModule(1, [32]byte{1}, wasmtest.Minimal())
	require.NoError(t, err)
	_, err = engine.Deserialize(ctx, tampered, config, nil)
	assert.True(t, errors.Is(err, ErrModuleCorrupt))

	raw := wasmtest.Minimal()
	unmetered, err := encodeModule(1, sha256.Sum256(raw), raw)
	require.NoError(t, err)
	_, err = engine.Deserialize(ctx, unmetered, config, nil)
	assert.True(t, errors.Is(err, ErrModuleCorrupt), "got %v", err)
}

func TestRunEcho(t *testing.T) {
	config := types.ConfigForVersion(1)
	instance := instantiate(t, newTestEngine(t), wasmtest.Success(), config, nil)
	instance.SetInk(1_000_000)
	instance.SetStack(config.Depth.MaxDepth)

	outcome, err := instance.RunMain(context.Background(), []byte("hello"), config)
	require.NoError(t, err)
	assert.Equal(t, types.Success, outcome.Kind)
	assert.Equal(t, []byte("hello"), outcome.Data)
	assert.Equal(t, uint64(1_000_000-types.FuncEntryInk-2*types.DefaultHostioInk), instance.InkLeft())
}

func TestRunVersionZeroIsFree(t *testing.T) {
	config := types.ConfigForVersion(0)
	instance := instantiate(t, newTestEngine(t), wasmtest.Success(), config, nil)
	instance.SetInk(10)

	outcome, err := instance.RunMain(context.Background(), []byte{1, 2, 3}, config)
	require.NoError(t, err)
	assert.Equal(t, types.Success, outcome.Kind)
	assert.Equal(t, uint64(10), instance.InkLeft())
}

func TestRunRevert(t *testing.T) {
	config := types.ConfigForVersion(1)
	instance := instantiate(t, newTestEngine(t), wasmtest.Revert(), config, nil)
	instance.SetInk(1_000_000)

	outcome, err := instance.RunMain(context.Background(), []byte("nope"), config)
	require.NoError(t, err)
	assert.Equal(t, types.Revert, outcome.Kind)
	assert.Equal(t, []byte("nope"), outcome.Data)
}

func TestRunTrap(t *testing.T) {
	config := types.ConfigForVersion(1)
	instance := instantiate(t, newTestEngine(t), wasmtest.Trap(), config, nil)
	instance.SetInk(1_000_000)

	outcome, err := instance.RunMain(context.Background(), nil, config)
	require.NoError(t, err)
	assert.Equal(t, types.Failure, outcome.Kind)
	require.Error(t, outcome.Err)
	assert.Contains(t, outcome.Err.Error(), "unreachable")
}

func TestRunOutOfInk(t *testing.T) {
	config := types.ConfigForVersion(1)
	engine := newTestEngine(t)

	t.Run("unfunded", func(t *testing.T) {
		instance := instantiate(t, engine, wasmtest.Success(), config, nil)
		instance.SetInk(types.FuncEntryInk - 1)
		outcome, err := instance.RunMain(context.Background(), nil, config)
		require.NoError(t, err)
		assert.Equal(t, types.OutOfInk, outcome.Kind)
		assert.Zero(t, instance.InkLeft())
	})

	t.Run("spin", func(t *testing.T) {
		instance := instantiate(t, engine, wasmtest.Spin(), config, nil)
		instance.SetInk(1_000_000)
		outcome, err := instance.RunMain(context.Background(), nil, config)
		require.NoError(t, err)
		assert.Equal(t, types.OutOfInk, outcome.Kind)
		assert.Zero(t, instance.InkLeft())
	})
}

func TestRunTightLoopRunsOutOfInk(t *testing.T) {
	engine := newTestEngine(t)
	for _, version := range []uint32{0, 1} {
		t.Run(fmt.Sprintf("version %d", version), func(t *testing.T) {
			config := types.ConfigForVersion(version)
			instance := instantiate(t, engine, wasmtest.TightLoop(), config, nil)
			instance.SetInk(10_000)

			outcome, err := instance.RunMain(context.Background(), nil, config)
			require.NoError(t, err)
			assert.Equal(t, types.OutOfInk, outcome.Kind)
			assert.Zero(t, instance.InkLeft())

			// the budget can be refilled and the loop caught again
			instance.SetInk(500)
			outcome, err = instance.RunMain(context.Background(), nil, config)
			require.NoError(t, err)
			assert.Equal(t, types.OutOfInk, outcome.Kind)
		})
	}
}

func TestRunChargesLoopIterations(t *testing.T) {
	config := types.ConfigForVersion(1)
	instance := instantiate(t, newTestEngine(t), wasmtest.Countdown(), config, nil)
	instance.SetInk(1_000_000)

	outcome, err := instance.RunMain(context.Background(), []byte{1, 2, 3}, config)
	require.NoError(t, err)
	assert.Equal(t, types.Success, outcome.Kind)

	// four visits to the loop header, each paying for get, eqz and br_if
	spent := types.FuncEntryInk + 4*3*types.DefaultOpcodeInk
	assert.Equal(t, uint64(1_000_000)-spent, instance.InkLeft())
}

func TestRunOutOfStack(t *testing.T) {
	config := types.ConfigForVersion(1)
	instance := instantiate(t, newTestEngine(t), wasmtest.Recurse(), config, nil)
	instance.SetInk(1_000_000_000)
	instance.SetStack(16)

	outcome, err := instance.RunMain(context.Background(), nil, config)
	require.NoError(t, err)
	assert.Equal(t, types.OutOfStack, outcome.Kind)
	assert.Equal(t, uint64(1_000_000_000-16*types.FuncEntryInk), instance.InkLeft())

	// the instance stays usable
	outcome, err = instance.RunMain(context.Background(), nil, config)
	require.NoError(t, err)
	assert.Equal(t, types.OutOfStack, outcome.Kind)
}

func TestRunEngineStackOverflow(t *testing.T) {
	config := types.ConfigForVersion(1)
	instance := instantiate(t, newTestEngine(t), wasmtest.Recurse(), config, nil)
	instance.SetInk(1_000_000_000_000)
	instance.SetStack(1_000_000)

	outcome, err := instance.RunMain(context.Background(), nil, config)
	require.NoError(t, err)
	assert.Equal(t, types.OutOfStack, outcome.Kind)
}

func TestClassify(t *testing.T) {
	trap := fmt.Errorf("wasm error: %w\nwasm stack trace:\n\tprogram.f()", errors.New("stack overflow"))
	assert.Equal(t, types.OutOfStack, classify(trap).Kind)

	hostPanic := fmt.Errorf("%w (recovered by wazero)\nwasm stack trace:\n\tprogram.f()", errors.New("stack overflow"))
	assert.Equal(t, types.Failure, classify(hostPanic).Kind)

	mentions := errors.New("wasm error: unreachable: stack overflow ahead")
	assert.Equal(t, types.Failure, classify(mentions).Kind)

	assert.Equal(t, types.OutOfInk, classify(fmt.Errorf("%w (recovered by wazero)", ErrOutOfInk)).Kind)
	assert.Equal(t, types.OutOfStack, classify(fmt.Errorf("%w (recovered by wazero)", ErrOutOfStack)).Kind)
}

func TestStaticCall(t *testing.T) {
	config := types.ConfigForVersion(1)
	api := &fakeAPI{ret: []byte("callee output"), cost: 5}
	instance := instantiate(t, newTestEngine(t), wasmtest.StaticCallProxy(), config, api)
	instance.SetInk(10_000_000)

	target := types.Address{0xaa, 0xbb}
	args := append(target[:], []byte("calldata")...)
	outcome, err := instance.RunMain(context.Background(), args, config)
	require.NoError(t, err)
	assert.Equal(t, types.Success, outcome.Kind)
	assert.Equal(t, []byte("callee output"), outcome.Data)

	require.Len(t, api.calls, 1)
	call := api.calls[0]
	assert.Equal(t, callKindStatic, call.kind)
	assert.Equal(t, target, call.contract)
	assert.Equal(t, []byte("calldata"), call.calldata)

	// all but one 64th of the gas left at the time of the call
	available := config.Pricing.InkToGas(10_000_000 - types.FuncEntryInk - 2*types.DefaultHostioInk)
	assert.Equal(t, available-available/64, call.gas)

	spent := types.FuncEntryInk + 4*types.DefaultHostioInk + config.Pricing.GasToInk(5)
	assert.Equal(t, uint64(10_000_000)-spent, instance.InkLeft())
}

func TestCallWithValue(t *testing.T) {
	config := types.ConfigForVersion(1)
	api := &fakeAPI{ret: []byte{}, err: errors.New("reverted")}
	instance := instantiate(t, newTestEngine(t), wasmtest.CallProxy(), config, api)
	instance.SetInk(10_000_000)

	target := types.Address{0x01}
	value := types.Bytes32{31: 7}
	args := append(append(target[:], value[:]...), 0xde, 0xad)
	outcome, err := instance.RunMain(context.Background(), args, config)
	require.NoError(t, err)
	assert.Equal(t, types.Revert, outcome.Kind)

	require.Len(t, api.calls, 1)
	assert.Equal(t, callKindCall, api.calls[0].kind)
	assert.Equal(t, value, api.calls[0].value)
	assert.Equal(t, []byte{0xde, 0xad}, api.calls[0].calldata)
}

func TestCallWithoutAPI(t *testing.T) {
	config := types.ConfigForVersion(1)
	instance := instantiate(t, newTestEngine(t), wasmtest.DelegateCallProxy(), config, nil)
	instance.SetInk(10_000_000)

	outcome, err := instance.RunMain(context.Background(), make([]byte, 20), config)
	require.NoError(t, err)
	assert.Equal(t, types.Revert, outcome.Kind)
	assert.Empty(t, outcome.Data)
}

func TestCompileCachesModules(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	config := types.ConfigForVersion(1)

	first, err := engine.Compile(ctx, wasmtest.Minimal(), config)
	require.NoError(t, err)
	second, err := engine.Compile(ctx, wasmtest.Minimal(), config)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, engine.cache.Len())
}

func TestConcurrentRunsWithSmallCache(t *testing.T) {
	ctx := context.Background()
	engineConfig := DefaultConfig()
	engineConfig.CacheSize = 1
	engine, err := NewEngine(ctx, engineConfig, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close(ctx) })

	config := types.ConfigForVersion(1)
	programs := []struct {
		wasm []byte
		want types.OutcomeKind
	}{
		{wasmtest.Success(), types.Success},
		{wasmtest.Revert(), types.Revert},
		{wasmtest.Minimal(), types.Success},
		{wasmtest.Countdown(), types.Success},
	}
	modules := make([][]byte, len(programs))
	for i, p := range programs {
		modules[i], err = engine.Compile(ctx, p.wasm, config)
		require.NoError(t, err)
	}

	var failures atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				k := (g + i) % len(modules)
				instance, err := engine.Deserialize(ctx, modules[k], config, nil)
				if !assert.NoError(t, err) {
					failures.Add(1)
					continue
				}
				instance.SetInk(1_000_000)
				outcome, err := instance.RunMain(ctx, []byte{1, 2}, config)
				assert.NoError(t, err)
				assert.Equal(t, programs[k].want, outcome.Kind)
				_ = instance.Close(ctx)
			}
		}(g)
	}
	wg.Wait()
	assert.Zero(t, failures.Load())
	assert.LessOrEqual(t, engine.cache.Len(), 1)
}

package native

import (
	"context"
	"fmt"
	"slices"

	"github.com/pkg/errors"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/availproject/avail-nitro-adapter/types"
)

// HostioModule is the import namespace programs use for hostios.
const HostioModule = "vm_hooks"

type signature struct {
	params  []api.ValueType
	results []api.ValueType
}

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

// hostioSignatures lists every hostio a program may import.
var hostioSignatures = map[string]signature{
	"read_args":              {params: []api.ValueType{i32}},
	"write_result":           {params: []api.ValueType{i32, i32}},
	"call_contract":          {params: []api.ValueType{i32, i32, i32, i32, i64, i32}, results: []api.ValueType{i32}},
	"delegate_call_contract": {params: []api.ValueType{i32, i32, i32, i64, i32}, results: []api.ValueType{i32}},
	"static_call_contract":   {params: []api.ValueType{i32, i32, i32, i64, i32}, results: []api.ValueType{i32}},
	"read_return_data":       {params: []api.ValueType{i32, i32, i32}, results: []api.ValueType{i32}},
	"return_data_size":       {results: []api.ValueType{i32}},
	"console_log":            {params: []api.ValueType{i32, i32}},
}

func checkImport(def api.FunctionDefinition) error {
	moduleName, name, _ := def.Import()
	if moduleName != HostioModule {
		return errors.Wrapf(ErrBadImport, "%s.%s", moduleName, name)
	}
	sig, ok := hostioSignatures[name]
	if !ok {
		return errors.Wrapf(ErrBadImport, "%s.%s", moduleName, name)
	}
	if !slices.Equal(sig.params, def.ParamTypes()) || !slices.Equal(sig.results, def.ResultTypes()) {
		return errors.Wrapf(ErrBadImport, "%s.%s has the wrong signature", moduleName, name)
	}
	return nil
}

// hostio returns the run state of the calling program and charges the flat
// hostio price.
func hostio(ctx context.Context) *runState {
	state := runStateFrom(ctx)
	if state == nil {
		panic(errors.New("hostio called outside of a program run"))
	}
	state.meter.buy(state.config.Pricing.HostioInk)
	return state
}

func readMemory(m api.Module, ptr, size uint32) []byte {
	data, ok := m.Memory().Read(ptr, size)
	if !ok {
		panic(errors.Errorf("out of bounds memory read of %d bytes at %#x", size, ptr))
	}
	return slices.Clone(data)
}

func writeMemory(m api.Module, ptr uint32, data []byte) {
	if !m.Memory().Write(ptr, data) {
		panic(errors.Errorf("out of bounds memory write of %d bytes at %#x", len(data), ptr))
	}
}

func writeU32(m api.Module, ptr, v uint32) {
	if !m.Memory().WriteUint32Le(ptr, v) {
		panic(errors.Errorf("out of bounds memory write at %#x", ptr))
	}
}

type callKind uint8

const (
	callKindCall callKind = iota
	callKindDelegate
	callKindStatic
)

func (e *Engine) instantiateHostio(ctx context.Context) (api.Module, error) {
	builder := e.runtime.NewHostModuleBuilder(HostioModule)

	builder.NewFunctionBuilder().
		WithParameterNames("dest").
		WithFunc(func(ctx context.Context, m api.Module, dest uint32) {
			state := hostio(ctx)
			writeMemory(m, dest, state.args)
		}).
		Export("read_args")

	builder.NewFunctionBuilder().
		WithParameterNames("data", "len").
		WithFunc(func(ctx context.Context, m api.Module, data, size uint32) {
			state := hostio(ctx)
			state.output = readMemory(m, data, size)
		}).
		Export("write_result")

	builder.NewFunctionBuilder().
		WithParameterNames("contract", "calldata", "calldata_len", "value", "gas", "return_data_len").
		WithResultNames("status").
		WithFunc(func(ctx context.Context, m api.Module, contract, calldata, calldataLen, value uint32, gas uint64, retLen uint32) uint32 {
			var word types.Bytes32
			copy(word[:], readMemory(m, value, 32))
			return e.doCall(ctx, m, callKindCall, contract, calldata, calldataLen, word, gas, retLen)
		}).
		Export("call_contract")

	builder.NewFunctionBuilder().
		WithParameterNames("contract", "calldata", "calldata_len", "gas", "return_data_len").
		WithResultNames("status").
		WithFunc(func(ctx context.Context, m api.Module, contract, calldata, calldataLen uint32, gas uint64, retLen uint32) uint32 {
			return e.doCall(ctx, m, callKindDelegate, contract, calldata, calldataLen, types.ZeroBytes32, gas, retLen)
		}).
		Export("delegate_call_contract")

	builder.NewFunctionBuilder().
		WithParameterNames("contract", "calldata", "calldata_len", "gas", "return_data_len").
		WithResultNames("status").
		WithFunc(func(ctx context.Context, m api.Module, contract, calldata, calldataLen uint32, gas uint64, retLen uint32) uint32 {
			return e.doCall(ctx, m, callKindStatic, contract, calldata, calldataLen, types.ZeroBytes32, gas, retLen)
		}).
		Export("static_call_contract")

	builder.NewFunctionBuilder().
		WithParameterNames("dest", "offset", "size").
		WithResultNames("copied").
		WithFunc(func(ctx context.Context, m api.Module, dest, offset, size uint32) uint32 {
			state := hostio(ctx)
			data := state.returnData
			if uint64(offset) >= uint64(len(data)) {
				return 0
			}
			end := min(uint64(offset)+uint64(size), uint64(len(data)))
			chunk := data[offset:end]
			writeMemory(m, dest, chunk)
			return uint32(len(chunk))
		}).
		Export("read_return_data")

	builder.NewFunctionBuilder().
		WithResultNames("size").
		WithFunc(func(ctx context.Context) uint32 {
			state := hostio(ctx)
			return uint32(len(state.returnData))
		}).
		Export("return_data_size")

	builder.NewFunctionBuilder().
		WithParameterNames("text", "len").
		WithFunc(func(ctx context.Context, m api.Module, text, size uint32) {
			state := hostio(ctx)
			msg := readMemory(m, text, size)
			if state.debug {
				state.logger.Debug("program log", "module", m.Name(), "text", string(msg))
			}
		}).
		Export("console_log")

	return builder.Instantiate(ctx)
}

// doCall performs a contract-call hostio. The nested call's cost is charged
// to the caller and its return data replaces the caller's.
func (e *Engine) doCall(ctx context.Context, m api.Module, kind callKind, contractPtr, calldataPtr, calldataLen uint32, value types.Bytes32, gas uint64, retLenPtr uint32) uint32 {
	state := hostio(ctx)
	contract := types.BytesToAddress(readMemory(m, contractPtr, 20))
	calldata := readMemory(m, calldataPtr, calldataLen)

	if state.api == nil {
		state.returnData = []byte{}
		writeU32(m, retLenPtr, 0)
		state.logger.Debug("contract call without evm api", "contract", contract)
		return 1
	}

	gas = state.callGas(gas)
	var (
		ret  []byte
		cost uint64
		err  error
	)
	switch kind {
	case callKindCall:
		ret, cost, err = state.api.ContractCall(ctx, contract, calldata, gas, value)
	case callKindDelegate:
		ret, cost, err = state.api.DelegateCall(ctx, contract, calldata, gas)
	case callKindStatic:
		ret, cost, err = state.api.StaticCall(ctx, contract, calldata, gas)
	default:
		panic(fmt.Sprintf("unknown call kind %d", kind))
	}
	state.meter.buy(state.config.Pricing.GasToInk(min(cost, gas)))

	if ret == nil {
		ret = []byte{}
	}
	state.returnData = ret
	writeU32(m, retLenPtr, uint32(len(ret)))
	if err != nil {
		state.logger.Debug("contract call failed", "contract", contract, "kind", kind, "error", err)
		return 1
	}
	return 0
}

// checkCompiled verifies that a compiled program only imports hostios and
// exports what the engine needs to run it.
func checkCompiled(compiled wazero.CompiledModule) error {
	for _, def := range compiled.ImportedFunctions() {
		if err := checkImport(def); err != nil {
			return err
		}
	}
	if len(compiled.ImportedMemories()) != 0 {
		return errors.Wrap(ErrBadImport, "programs may not import memory")
	}
	if _, ok := compiled.ExportedMemories()["memory"]; !ok {
		return ErrMissingMemory
	}
	entry, ok := compiled.ExportedFunctions()[entrypoint]
	if !ok {
		return ErrMissingEntrypoint
	}
	if !slices.Equal(entry.ParamTypes(), []api.ValueType{i32}) || !slices.Equal(entry.ResultTypes(), []api.ValueType{i32}) {
		return errors.Wrap(ErrMissingEntrypoint, "user_entrypoint must have type (i32) -> i32")
	}
	return nil
}

package wasmtest

const hooks = "vm_hooks"

var (
	params1 = []byte{I32}
	result1 = []byte{I32}
)

func entry(b *Builder, locals []byte, body ...[]byte) []byte {
	idx := b.Func(params1, result1, locals, body...)
	return b.Memory(1).Export("user_entrypoint", idx).Bytes()
}

// Echo writes its arguments back as the result and returns status.
func Echo(status int32) []byte {
	b := NewBuilder()
	readArgs := b.Import(hooks, "read_args", []byte{I32}, nil)
	writeResult := b.Import(hooks, "write_result", []byte{I32, I32}, nil)
	return entry(b, nil,
		I32Const(0), Call(readArgs),
		I32Const(0), LocalGet(0), Call(writeResult),
		I32Const(status),
	)
}

// Success echoes its arguments and succeeds.
func Success() []byte { return Echo(0) }

// Revert echoes its arguments and reverts.
func Revert() []byte { return Echo(1) }

// Minimal is the smallest valid program: it returns success without
// touching any hostio.
func Minimal() []byte {
	return entry(NewBuilder(), nil, I32Const(0))
}

// Trap executes an unreachable instruction.
func Trap() []byte {
	return entry(NewBuilder(), nil, Unreachable)
}

// Recurse calls itself until the call stack is exhausted.
func Recurse() []byte {
	b := NewBuilder()
	return entry(b, nil, LocalGet(0), Call(0))
}

// Spin calls an empty function forever, spending ink on every entry.
func Spin() []byte {
	b := NewBuilder()
	noop := b.Func(nil, nil, nil)
	idx := b.Func(params1, result1, nil,
		Loop, Call(noop), Br(0), End,
		I32Const(0),
	)
	return b.Memory(1).Export("user_entrypoint", idx).Bytes()
}

// TightLoop branches back to its loop header forever without calling
// anything.
func TightLoop() []byte {
	return entry(NewBuilder(), nil, Loop, Br(0), End, I32Const(0))
}

// Countdown loops once per byte of its arguments plus once more to exit,
// then succeeds.
func Countdown() []byte {
	return entry(NewBuilder(), nil,
		Block, Loop,
		LocalGet(0), I32Eqz, BrIf(1),
		LocalGet(0), I32Const(1), I32Sub, LocalSet(0),
		Br(0),
		End, End,
		I32Const(0),
	)
}

// Log passes its arguments to console_log and succeeds.
func Log() []byte {
	b := NewBuilder()
	readArgs := b.Import(hooks, "read_args", []byte{I32}, nil)
	log := b.Import(hooks, "console_log", []byte{I32, I32}, nil)
	return entry(b, nil,
		I32Const(0), Call(readArgs),
		I32Const(0), LocalGet(0), Call(log),
		I32Const(0),
	)
}

const (
	retLenPtr = 1024
	retData   = 2048
)

// StaticCallProxy expects a 20-byte address followed by calldata. It
// static-calls the address with all available gas and returns the callee's
// return data under the callee's status.
func StaticCallProxy() []byte {
	return proxy("static_call_contract")
}

// DelegateCallProxy is StaticCallProxy using delegate_call_contract.
func DelegateCallProxy() []byte {
	return proxy("delegate_call_contract")
}

// CallProxy expects a 20-byte address, a 32-byte value and calldata, and
// forwards them to call_contract.
func CallProxy() []byte {
	return proxy("call_contract")
}

func proxy(hostio string) []byte {
	b := NewBuilder()
	readArgs := b.Import(hooks, "read_args", []byte{I32}, nil)
	writeResult := b.Import(hooks, "write_result", []byte{I32, I32}, nil)
	readReturnData := b.Import(hooks, "read_return_data", []byte{I32, I32, I32}, []byte{I32})

	var call uint32
	var args [][]byte
	if hostio == "call_contract" {
		call = b.Import(hooks, hostio, []byte{I32, I32, I32, I32, I64, I32}, []byte{I32})
		args = [][]byte{
			I32Const(0), I32Const(52), LocalGet(0), I32Const(52), I32Sub, I32Const(20),
		}
	} else {
		call = b.Import(hooks, hostio, []byte{I32, I32, I32, I64, I32}, []byte{I32})
		args = [][]byte{
			I32Const(0), I32Const(20), LocalGet(0), I32Const(20), I32Sub,
		}
	}

	body := [][]byte{I32Const(0), Call(readArgs)}
	body = append(body, args...)
	body = append(body,
		I64Const(-1), I32Const(retLenPtr), Call(call), LocalSet(1),
		I32Const(retData), I32Const(0), I32Const(retLenPtr), I32Load(0), Call(readReturnData), Drop,
		I32Const(retData), I32Const(retLenPtr), I32Load(0), Call(writeResult),
		LocalGet(1),
	)
	return entry(b, []byte{I32}, body...)
}

// ForeignImport imports a function outside the hostio namespace.
func ForeignImport() []byte {
	b := NewBuilder()
	b.Import("env", "abort", nil, nil)
	return entry(b, nil, I32Const(0))
}

// WrongSignature imports read_args with the wrong type.
func WrongSignature() []byte {
	b := NewBuilder()
	b.Import(hooks, "read_args", []byte{I64}, nil)
	return entry(b, nil, I32Const(0))
}

// NoEntrypoint exports memory but no user_entrypoint.
func NoEntrypoint() []byte {
	b := NewBuilder()
	b.Func(params1, result1, nil, I32Const(0))
	return b.Memory(1).Bytes()
}

// WithStart declares a start function.
func WithStart() []byte {
	b := NewBuilder()
	start := b.Func(nil, nil, nil)
	idx := b.Func(params1, result1, nil, I32Const(0))
	return b.Memory(1).Export("user_entrypoint", idx).Start(start).Bytes()
}

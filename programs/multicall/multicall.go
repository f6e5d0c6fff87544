// Package multicall encodes batches of contract calls and runs them, in
// order, against an EvmAPI.
//
// A payload is a call count byte followed, per call, by a big-endian u32
// length and that many bytes: a kind byte, a 32-byte value when the kind
// is CallWithValue, a 20-byte address and the calldata.
package multicall

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/availproject/avail-nitro-adapter/native"
	"github.com/availproject/avail-nitro-adapter/types"
)

// Kind selects the hostio a call is made with.
type Kind uint8

const (
	KindCall Kind = iota
	KindCallWithValue
	KindDelegateCall
	KindStaticCall
)

func (k Kind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindCallWithValue:
		return "call-with-value"
	case KindDelegateCall:
		return "delegatecall"
	case KindStaticCall:
		return "staticcall"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ErrMalformed is returned for payloads that cannot be decoded.
var ErrMalformed = errors.New("malformed multicall payload")

// Call is one entry of a batch. Value is only encoded for
// KindCallWithValue.
type Call struct {
	Kind    Kind
	Value   types.Bytes32
	Address types.Address
	Data    []byte
}

// MaxCalls is the largest batch a payload can describe.
const MaxCalls = 255

// Encode builds the payload for calls.
func Encode(calls []Call) ([]byte, error) {
	if len(calls) > MaxCalls {
		return nil, errors.Errorf("too many calls: %d", len(calls))
	}
	out := []byte{byte(len(calls))}
	for _, call := range calls {
		var body []byte
		body = append(body, byte(call.Kind))
		if call.Kind == KindCallWithValue {
			body = append(body, call.Value[:]...)
		}
		body = append(body, call.Address[:]...)
		body = append(body, call.Data...)
		out = binary.BigEndian.AppendUint32(out, uint32(len(body)))
		out = append(out, body...)
	}
	return out, nil
}

// Decode parses a payload. Bytes after the last call are ignored.
func Decode(input []byte) ([]Call, error) {
	if len(input) == 0 {
		return nil, errors.Wrap(ErrMalformed, "missing call count")
	}
	count := int(input[0])
	input = input[1:]

	calls := make([]Call, 0, count)
	for i := 0; i < count; i++ {
		if len(input) < 4 {
			return nil, errors.Wrapf(ErrMalformed, "call %d: missing length", i)
		}
		length := binary.BigEndian.Uint32(input)
		input = input[4:]
		if uint64(length) > uint64(len(input)) {
			return nil, errors.Wrapf(ErrMalformed, "call %d: length %d exceeds payload", i, length)
		}
		curr, next := input[:length], input[length:]

		if len(curr) < 1 {
			return nil, errors.Wrapf(ErrMalformed, "call %d: missing kind", i)
		}
		call := Call{Kind: Kind(curr[0])}
		curr = curr[1:]
		if call.Kind > KindStaticCall {
			return nil, errors.Wrapf(ErrMalformed, "call %d: unknown call kind %d", i, call.Kind)
		}
		if call.Kind == KindCallWithValue {
			if len(curr) < 32 {
				return nil, errors.Wrapf(ErrMalformed, "call %d: missing value", i)
			}
			copy(call.Value[:], curr[:32])
			curr = curr[32:]
		}
		if len(curr) < 20 {
			return nil, errors.Wrapf(ErrMalformed, "call %d: missing address", i)
		}
		copy(call.Address[:], curr[:20])
		call.Data = append([]byte{}, curr[20:]...)

		calls = append(calls, call)
		input = next
	}
	return calls, nil
}

// Run performs the calls in input in order and returns their concatenated
// outputs and the gas they used. The first failing call stops the batch;
// its return data is returned with the error.
func Run(ctx context.Context, evm native.EvmAPI, input []byte, gas uint64) ([]byte, uint64, error) {
	calls, err := Decode(input)
	if err != nil {
		return nil, 0, err
	}
	slog.Debug("running multicall", "calls", len(calls))

	output := []byte{}
	var used uint64
	for i, call := range calls {
		remaining := gas - used
		budget := remaining - remaining/64

		var (
			ret  []byte
			cost uint64
		)
		switch call.Kind {
		case KindCall, KindCallWithValue:
			ret, cost, err = evm.ContractCall(ctx, call.Address, call.Data, budget, call.Value)
		case KindDelegateCall:
			ret, cost, err = evm.DelegateCall(ctx, call.Address, call.Data, budget)
		case KindStaticCall:
			ret, cost, err = evm.StaticCall(ctx, call.Address, call.Data, budget)
		}
		used += min(cost, budget)
		if err != nil {
			return ret, used, errors.Wrapf(err, "call %d to %s failed", i, call.Address)
		}
		if len(ret) != 0 {
			slog.Debug("multicall returned", "call", i, "contract", call.Address, "kind", call.Kind, "bytes", len(ret))
		}
		output = append(output, ret...)
	}
	return output, used, nil
}

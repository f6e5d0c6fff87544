package native

import (
	"context"

	"github.com/availproject/avail-nitro-adapter/types"
)

// EvmAPI is the host's side of the contract-call hostios. Each method runs
// the callee with at most gas and reports the gas it consumed. A non-nil
// error means the call failed; ret then carries any revert data.
type EvmAPI interface {
	ContractCall(ctx context.Context, contract types.Address, calldata []byte, gas uint64, value types.Bytes32) (ret []byte, cost uint64, err error)
	DelegateCall(ctx context.Context, contract types.Address, calldata []byte, gas uint64) (ret []byte, cost uint64, err error)
	StaticCall(ctx context.Context, contract types.Address, calldata []byte, gas uint64) (ret []byte, cost uint64, err error)
}

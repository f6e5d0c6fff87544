package native

import (
	"context"

	"github.com/pkg/errors"
	"github.com/tetratelabs/wazero/api"

	"github.com/availproject/avail-nitro-adapter/types"
)

// Instance is one instantiated program with its ink budget.
type Instance struct {
	module api.Module
	entry  api.Function
	state  *runState
}

// SetInk funds the instance.
func (i *Instance) SetInk(ink uint64) {
	i.state.meter.set(ink)
}

// SetStack sets the maximum call depth.
func (i *Instance) SetStack(maxDepth uint32) {
	i.state.meter.maxDepth = maxDepth
}

// InkLeft returns the unspent budget.
func (i *Instance) InkLeft() uint64 {
	return i.state.meter.left()
}

// RunMain calls the program's entrypoint with calldata. Traps and resource
// exhaustion are reported through the outcome; the error is reserved for
// failures of the engine itself.
func (i *Instance) RunMain(ctx context.Context, calldata []byte, config types.StylusConfig) (types.Outcome, error) {
	if i.entry == nil {
		return types.Outcome{}, ErrMissingEntrypoint
	}
	state := i.state
	state.config = config
	state.args = calldata
	state.output = nil
	state.returnData = nil
	state.meter.depth = 0
	state.meter.entryInk = config.FuncEntryInk()
	state.meter.status.Set(0)

	results, err := i.entry.Call(withRunState(ctx, state), uint64(len(calldata)))
	if err != nil {
		if state.meter.exhausted() {
			return types.OutOfInkOutcome(), nil
		}
		return classify(err), nil
	}
	if len(results) != 1 {
		return types.Outcome{}, errors.Errorf("entrypoint returned %d values", len(results))
	}

	switch status := uint32(results[0]); status {
	case 0:
		return types.SuccessOutcome(state.output), nil
	case 1:
		return types.RevertOutcome(state.output), nil
	default:
		return types.FailureOutcome(errors.Errorf("unknown entrypoint status %d", status)), nil
	}
}

// Close releases the instance's memory.
func (i *Instance) Close(ctx context.Context) error {
	return i.module.Close(ctx)
}

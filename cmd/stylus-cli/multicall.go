package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/availproject/avail-nitro-adapter/programs/multicall"
	"github.com/availproject/avail-nitro-adapter/types"
)

var (
	multicallSpecs []string
	multicallRun   bool
)

var multicallCmd = &cobra.Command{
	Use:   "multicall",
	Short: "Encode and optionally run a multicall payload",
	Long: `Encode a batch of calls as a multicall payload. Each --call is
kind:address[:data[:value]] where kind is call, delegatecall or staticcall;
a call with a value is encoded as a call with value.
Example: stylus-cli multicall --call staticcall:0x0000000000000000000000000000000000000001:0xcafe --run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		calls := make([]multicall.Call, 0, len(multicallSpecs))
		for _, spec := range multicallSpecs {
			call, err := parseCall(spec)
			if err != nil {
				return fmt.Errorf("invalid call %q: %w", spec, err)
			}
			calls = append(calls, call)
		}
		payload, err := multicall.Encode(calls)
		if err != nil {
			return err
		}
		fmt.Printf("Payload: 0x%s\n", hex.EncodeToString(payload))
		if !multicallRun {
			return nil
		}

		ctx := context.Background()
		e, err := newEnv(ctx, types.ZeroAddress)
		if err != nil {
			return err
		}
		defer e.Close(ctx)

		target, _ := types.AddressFromString(cfg.Multicall)
		output, cost, err := e.api.ContractCall(ctx, target, payload, callGas, types.ZeroBytes32)
		if err != nil {
			color.Red("Multicall failed: %v", err)
		} else {
			color.Green("Multicall succeeded")
		}
		fmt.Printf("Output: 0x%s\n", hex.EncodeToString(output))
		fmt.Printf("Gas used: %d\n", cost)
		return nil
	},
}

func parseCall(spec string) (multicall.Call, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 4 {
		return multicall.Call{}, fmt.Errorf("want kind:address[:data[:value]]")
	}

	var call multicall.Call
	switch parts[0] {
	case "call":
		call.Kind = multicall.KindCall
	case "delegatecall":
		call.Kind = multicall.KindDelegateCall
	case "staticcall":
		call.Kind = multicall.KindStaticCall
	default:
		return call, fmt.Errorf("unknown call kind %q", parts[0])
	}

	address, err := types.AddressFromString(parts[1])
	if err != nil {
		return call, err
	}
	call.Address = address

	if len(parts) > 2 && parts[2] != "" {
		if call.Data, err = parseHex(parts[2]); err != nil {
			return call, err
		}
	}
	if len(parts) > 3 {
		if call.Kind != multicall.KindCall {
			return call, fmt.Errorf("only calls can carry a value")
		}
		if call.Value, err = types.Bytes32FromString(parts[3]); err != nil {
			return call, err
		}
		call.Kind = multicall.KindCallWithValue
	}
	return call, nil
}

func init() {
	multicallCmd.Flags().StringArrayVar(&multicallSpecs, "call", nil, "Call to include, kind:address[:data[:value]] (repeatable)")
	multicallCmd.Flags().BoolVar(&multicallRun, "run", false, "Run the payload against the state database")
	multicallCmd.Flags().Uint64Var(&callGas, "gas", 1_000_000, "Gas to fund the batch with")
	multicallCmd.MarkFlagRequired("call")
}

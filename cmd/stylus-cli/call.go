package main

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/availproject/avail-nitro-adapter/types"
)

var (
	callAddress string
	callData    string
	callGas     uint64
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Execute a deployed program",
	Long: `Execute a deployed program through the full handle protocol: compile,
make a config, call, then drain the output buffer.
Example: stylus-cli call --address 0x0000000000000000000000000000000000000001 --data 0xcafe --gas 100000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		address, err := types.AddressFromString(callAddress)
		if err != nil {
			return err
		}
		calldata, err := parseHex(callData)
		if err != nil {
			return err
		}

		ctx := context.Background()
		e, err := newEnv(ctx, address)
		if err != nil {
			return err
		}
		defer e.Close(ctx)

		code, programVersion, err := e.store.Code(address)
		if err != nil {
			return fmt.Errorf("failed to load program: %w", err)
		}

		module, diagnostic := e.host.Compile(ctx, code, programVersion)
		if diagnostic != 0 {
			return fmt.Errorf("%s", e.host.ReadBuffer(ctx, diagnostic))
		}
		config := cfg.Program
		config.Version = programVersion
		configHandle := e.host.MakeConfig(ctx, config)

		status, out, gasLeft, err := e.host.Call(ctx, module, calldata, configHandle, callGas)
		if err != nil {
			return err
		}
		output := e.host.ReadBuffer(ctx, out)

		printStatus(status)
		if status == types.Failure {
			fmt.Printf("Error: %s\n", output)
		} else {
			fmt.Printf("Output: 0x%s\n", hex.EncodeToString(output))
		}
		fmt.Printf("Gas used: %d\n", callGas-gasLeft)
		fmt.Printf("Gas left: %d\n", gasLeft)
		return nil
	},
}

func init() {
	callCmd.Flags().StringVarP(&callAddress, "address", "a", "", "Address of the program (required)")
	callCmd.Flags().StringVarP(&callData, "data", "d", "", "Hex calldata")
	callCmd.Flags().Uint64Var(&callGas, "gas", 1_000_000, "Gas to fund the call with")
	callCmd.MarkFlagRequired("address")
}

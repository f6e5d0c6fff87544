package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/availproject/avail-nitro-adapter/types"
)

var deployAddress string

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a wasm program",
	Long: `Compile a wasm program and store it at an address in the state database.
Example: stylus-cli deploy -f program.wasm --address 0x0000000000000000000000000000000000000001 --version 1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		wasm, err := os.ReadFile(wasmFile)
		if err != nil {
			return fmt.Errorf("failed to read wasm file: %w", err)
		}
		address, err := types.AddressFromString(deployAddress)
		if err != nil {
			return err
		}

		ctx := context.Background()
		e, err := newEnv(ctx, types.ZeroAddress)
		if err != nil {
			return err
		}
		defer e.Close(ctx)

		// reject programs the engine cannot run before storing them
		if _, err := e.engine.Compile(ctx, wasm, types.ConfigForVersion(version)); err != nil {
			return fmt.Errorf("failed to compile program: %w", err)
		}
		if err := e.store.Deploy(address, wasm, version); err != nil {
			return err
		}

		slog.Info("deployed program", "address", address, "version", version, "size", len(wasm))
		fmt.Printf("Program deployed successfully!\n")
		fmt.Printf("Program address: %s\n", address)
		return nil
	},
}

func init() {
	deployCmd.Flags().StringVarP(&wasmFile, "file", "f", "", "Wasm file of the program (required)")
	deployCmd.Flags().StringVarP(&deployAddress, "address", "a", "", "Address to deploy at (required)")
	deployCmd.Flags().Uint32Var(&version, "version", 1, "Program version")
	deployCmd.MarkFlagRequired("file")
	deployCmd.MarkFlagRequired("address")
}

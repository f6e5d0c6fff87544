package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/availproject/avail-nitro-adapter/bridge"
	"github.com/availproject/avail-nitro-adapter/handles"
	"github.com/availproject/avail-nitro-adapter/types"
)

var (
	wasmFile string
	version  uint32
)

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile a wasm program",
	Long: `Compile and instrument a wasm program through the host bridge.
Example: stylus-cli compile -f program.wasm --version 1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		wasm, err := os.ReadFile(wasmFile)
		if err != nil {
			return fmt.Errorf("failed to read wasm file: %w", err)
		}

		ctx := context.Background()
		e, err := newEnv(ctx, types.ZeroAddress)
		if err != nil {
			return err
		}
		defer e.Close(ctx)

		module, diagnostic := e.host.Compile(ctx, wasm, version)
		if diagnostic != 0 {
			color.Red("Compilation failed")
			fmt.Println(string(e.host.ReadBuffer(ctx, diagnostic)))
			return fmt.Errorf("failed to compile %s", wasmFile)
		}
		serialized := handles.Reclaim[bridge.Module](e.bridge.Registry(), module)
		color.Green("Compiled %s (version %d)", wasmFile, version)
		fmt.Printf("Module size: %d bytes\n", len(serialized))
		return nil
	},
}

func init() {
	compileCmd.Flags().StringVarP(&wasmFile, "file", "f", "", "Wasm file of the program (required)")
	compileCmd.Flags().Uint32Var(&version, "version", 1, "Program version")
	compileCmd.MarkFlagRequired("file")
}

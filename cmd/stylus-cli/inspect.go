package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/availproject/avail-nitro-adapter/native"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List the imports and exports of a wasm program",
	Long: `Decode a wasm program and report its imports and exports, and whether
the engine would accept it.
Example: stylus-cli inspect -f program.wasm`,
	RunE: func(cmd *cobra.Command, args []string) error {
		wasm, err := os.ReadFile(wasmFile)
		if err != nil {
			return fmt.Errorf("failed to read wasm file: %w", err)
		}

		ctx := context.Background()
		engine, err := native.NewEngine(ctx, cfg.Engine, nil)
		if err != nil {
			return fmt.Errorf("failed to create engine: %w", err)
		}
		defer engine.Close(ctx)

		report, err := engine.Inspect(ctx, wasm)
		if err != nil {
			return err
		}

		fmt.Printf("Inspecting %s\n", wasmFile)
		fmt.Println("\nExports:")
		for _, export := range report.Exports {
			fmt.Printf("  - %s: %s %s\n", export.Name, export.Kind, export.Signature)
		}
		fmt.Println("\nImports:")
		for _, imp := range report.Imports {
			line := fmt.Sprintf("  - module: '%s', name: '%s', type: %s", imp.Module, imp.Name, imp.Signature)
			if imp.Supported {
				fmt.Println(line)
			} else {
				color.Red("%s (unsupported)", line)
			}
		}
		fmt.Println()
		if report.Problem != nil {
			color.Red("Rejected: %v", report.Problem)
		} else {
			color.Green("Accepted")
		}
		return nil
	},
}

func init() {
	inspectCmd.Flags().StringVarP(&wasmFile, "file", "f", "", "Wasm file of the program (required)")
	inspectCmd.MarkFlagRequired("file")
}

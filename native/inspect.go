package native

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tetratelabs/wazero/api"
)

// Import is a function a program imports.
type Import struct {
	Module    string
	Name      string
	Signature string
	// Supported reports whether the import is a hostio with this signature.
	Supported bool
}

// Export is a function or memory a program exports.
type Export struct {
	Name      string
	Kind      string
	Signature string
}

// Inspection lists what a program imports and exports and whether the
// engine would accept it.
type Inspection struct {
	Imports       []Import
	Exports       []Export
	StartFunction bool
	// Problem is why Compile would reject the program, if it would.
	Problem error
}

// Inspect decodes wasm without instrumenting or caching it.
func (e *Engine) Inspect(ctx context.Context, wasm []byte) (*Inspection, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("failed to decode module: %w", err)
	}
	defer compiled.Close(ctx)

	report := &Inspection{StartFunction: hasStartSection(wasm)}
	for _, def := range compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		report.Imports = append(report.Imports, Import{
			Module:    module,
			Name:      name,
			Signature: signatureString(def.ParamTypes(), def.ResultTypes()),
			Supported: checkImport(def) == nil,
		})
	}
	for name, def := range compiled.ExportedFunctions() {
		report.Exports = append(report.Exports, Export{
			Name:      name,
			Kind:      "func",
			Signature: signatureString(def.ParamTypes(), def.ResultTypes()),
		})
	}
	for name, def := range compiled.ExportedMemories() {
		maxPages, _ := def.Max()
		report.Exports = append(report.Exports, Export{
			Name:      name,
			Kind:      "memory",
			Signature: fmt.Sprintf("pages %d..%d", def.Min(), maxPages),
		})
	}
	sort.Slice(report.Exports, func(i, j int) bool {
		return report.Exports[i].Name < report.Exports[j].Name
	})

	if report.StartFunction {
		report.Problem = ErrStartFunction
	} else {
		report.Problem = checkCompiled(compiled)
	}
	return report, nil
}

func signatureString(params, results []api.ValueType) string {
	names := func(vs []api.ValueType) string {
		out := make([]string, len(vs))
		for i, t := range vs {
			out[i] = api.ValueTypeName(t)
		}
		return strings.Join(out, ", ")
	}
	return fmt.Sprintf("(%s) -> (%s)", names(params), names(results))
}

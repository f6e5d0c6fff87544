package native

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/availproject/avail-nitro-adapter/internal/wasmtest"
)

func TestInspect(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	report, err := engine.Inspect(ctx, wasmtest.Success())
	require.NoError(t, err)
	assert.NoError(t, report.Problem)
	assert.False(t, report.StartFunction)
	require.Len(t, report.Imports, 2)
	assert.Equal(t, Import{Module: HostioModule, Name: "read_args", Signature: "(i32) -> ()", Supported: true}, report.Imports[0])
	require.Len(t, report.Exports, 2)
	assert.Equal(t, "memory", report.Exports[0].Name)
	assert.Equal(t, Export{Name: entrypoint, Kind: "func", Signature: "(i32) -> (i32)"}, report.Exports[1])

	report, err = engine.Inspect(ctx, wasmtest.ForeignImport())
	require.NoError(t, err)
	assert.True(t, errors.Is(report.Problem, ErrBadImport))
	assert.False(t, report.Imports[0].Supported)

	report, err = engine.Inspect(ctx, wasmtest.WithStart())
	require.NoError(t, err)
	assert.True(t, report.StartFunction)
	assert.True(t, errors.Is(report.Problem, ErrStartFunction))

	_, err = engine.Inspect(ctx, []byte("junk"))
	assert.Error(t, err)
}

package native

import "github.com/pkg/errors"

var (
	// ErrOutOfInk aborts a run whose ink budget cannot cover the next charge.
	ErrOutOfInk = errors.New("out of ink")
	// ErrOutOfStack aborts a run that exceeds its maximum call depth.
	ErrOutOfStack = errors.New("out of stack")

	ErrUnsupportedVersion = errors.New("unsupported program version")
	ErrMissingEntrypoint  = errors.New("missing user_entrypoint export")
	ErrMissingMemory      = errors.New("missing memory export")
	ErrBadImport          = errors.New("unsupported import")
	ErrStartFunction      = errors.New("start functions are not allowed")
	ErrModuleCorrupt      = errors.New("corrupt module")
	ErrMalformedWasm      = errors.New("malformed wasm")
	ErrReservedExport     = errors.New("export name is reserved")
	ErrVersionMismatch    = errors.New("module version does not match config")
	ErrNoEvmAPI           = errors.New("no evm api available")
)

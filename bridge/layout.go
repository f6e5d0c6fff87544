package bridge

import "github.com/availproject/avail-nitro-adapter/gostack"

// Field layouts of the entry points. Arguments come first, then results;
// both sides of the boundary walk them in this order.
var (
	// λ(wasm []byte, version u32) (module *Module, err *Buffer)
	compileLayout = gostack.Layout{
		gostack.Slice, gostack.U32, gostack.Pad,
		gostack.Ptr, gostack.Ptr,
	}

	// λ(module *Module, calldata []byte, config *StylusConfig, gas *u64, root *[32]byte) (status u8, out *Buffer)
	callLayout = gostack.Layout{
		gostack.Ptr, gostack.Slice, gostack.Ptr, gostack.Ptr, gostack.Skip,
		gostack.U8, gostack.Pad, gostack.Ptr,
	}

	// λ(buf *Buffer) (len u32)
	bufferLenLayout = gostack.Layout{
		gostack.Ptr,
		gostack.U32,
	}

	// λ(buf *Buffer, dest []byte); only the data word of dest is read
	bufferDrainLayout = gostack.Layout{
		gostack.Ptr, gostack.Ptr,
	}

	// λ(version, maxDepth u32, inkPrice, hostioInk u64) *StylusConfig
	configLayout = gostack.Layout{
		gostack.U32, gostack.U32, gostack.U64, gostack.U64,
		gostack.Ptr,
	}
)

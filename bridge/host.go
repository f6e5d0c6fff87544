package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/availproject/avail-nitro-adapter/gostack"
	"github.com/availproject/avail-nitro-adapter/types"
)

// Host drives the entry points from native Go the way a Go (js/wasm) host
// does: it lays out each frame in a linear memory and follows the handle
// protocol.
type Host struct {
	mu     sync.Mutex
	bridge *Bridge
	mem    *gostack.LinearMemory
}

// NewHost creates a host client for b.
func NewHost(b *Bridge) *Host {
	return &Host{bridge: b, mem: gostack.NewLinearMemory(4096)}
}

// frame allocates a stack frame for layout and returns its stack pointer.
func (h *Host) frame(layout gostack.Layout) uint32 {
	return h.mem.Alloc(8 + layout.Size())
}

func (h *Host) bytes(data []byte) uint32 {
	addr := h.mem.Alloc(uint32(len(data)))
	h.mem.Write(addr, data)
	return addr
}

// Compile compiles wasm at version. Exactly one of module and diagnostic is
// non-zero.
func (h *Host) Compile(ctx context.Context, wasm []byte, version uint32) (module, diagnostic uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.mem.Reset()

	data := h.bytes(wasm)
	sp := h.frame(compileLayout)
	s := gostack.New(h.mem, sp, compileLayout)
	s.WriteGoSlice(uint64(data), uint64(len(wasm))).WriteU32(version).SkipSpace()

	h.bridge.CompileUserWasm(ctx, h.mem, sp)

	module, diagnostic = s.ReadPtr(), s.ReadPtr()
	s.Done()
	return module, diagnostic
}

// MakeConfig returns a handle to a config built from its parts.
func (h *Host) MakeConfig(ctx context.Context, config types.StylusConfig) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.mem.Reset()

	sp := h.frame(configLayout)
	s := gostack.New(h.mem, sp, configLayout)
	s.WriteU32(config.Version).
		WriteU32(config.Depth.MaxDepth).
		WriteU64(config.Pricing.InkPrice).
		WriteU64(config.Pricing.HostioInk)

	h.bridge.RustConfigImpl(ctx, h.mem, sp)

	handle := s.ReadPtr()
	s.Done()
	return handle
}

// Call executes the module behind moduleHandle, consuming it and
// configHandle. It returns the status, the output buffer handle and the
// gas left. An unknown status is an error.
func (h *Host) Call(ctx context.Context, moduleHandle uint64, calldata []byte, configHandle uint64, gas uint64) (types.OutcomeKind, uint64, uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.mem.Reset()

	data := h.bytes(calldata)
	gasPtr := h.mem.Alloc(8)
	h.mem.WriteUint64Le(gasPtr, gas)
	sp := h.frame(callLayout)

	s := gostack.New(h.mem, sp, callLayout)
	s.WritePtr(moduleHandle).
		WriteGoSlice(uint64(data), uint64(len(calldata))).
		WritePtr(configHandle).
		WritePtr(uint64(gasPtr)).
		SkipU64()

	h.bridge.CallUserWasm(ctx, h.mem, sp)

	status := types.OutcomeKind(s.ReadU8())
	s.SkipSpace()
	out := s.ReadPtr()
	s.Done()
	gasLeft, _ := h.mem.ReadUint64Le(gasPtr)
	if !status.Valid() {
		return status, out, gasLeft, fmt.Errorf("unknown program status %d", uint8(status))
	}
	return status, out, gasLeft, nil
}

// BufferLen returns the length of the buffer behind handle.
func (h *Host) BufferLen(ctx context.Context, handle uint64) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.mem.Reset()
	return h.bufferLen(ctx, handle)
}

func (h *Host) bufferLen(ctx context.Context, handle uint64) uint32 {
	sp := h.frame(bufferLenLayout)
	s := gostack.New(h.mem, sp, bufferLenLayout)
	s.WritePtr(handle)

	h.bridge.ReadRustVecLen(ctx, h.mem, sp)

	size := s.ReadU32()
	s.Done()
	return size
}

// BufferDrain copies the buffer behind handle to dest, which must hold at
// least BufferLen bytes, and releases the handle.
func (h *Host) BufferDrain(ctx context.Context, handle uint64, dest []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.mem.Reset()

	addr := h.mem.Alloc(uint32(len(dest)))
	h.drain(ctx, handle, addr)
	data, _ := h.mem.Read(addr, uint32(len(dest)))
	copy(dest, data)
}

func (h *Host) drain(ctx context.Context, handle uint64, addr uint32) {
	sp := h.frame(bufferDrainLayout)
	s := gostack.New(h.mem, sp, bufferDrainLayout)
	s.WritePtr(handle).WritePtr(uint64(addr))

	h.bridge.RustVecIntoSlice(ctx, h.mem, sp)
	s.Done()
}

// ReadBuffer reads and releases the buffer behind handle.
func (h *Host) ReadBuffer(ctx context.Context, handle uint64) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.mem.Reset()

	size := h.bufferLen(ctx, handle)
	addr := h.mem.Alloc(size)
	h.drain(ctx, handle, addr)
	data, _ := h.mem.Read(addr, size)
	return append([]byte{}, data...)
}

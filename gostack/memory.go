package gostack

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Memory is the subset of a wasm linear memory the stack cursor needs.
// wazero's api.Memory satisfies it.
type Memory interface {
	Size() uint32
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, v []byte) bool
	ReadUint32Le(offset uint32) (uint32, bool)
	ReadUint64Le(offset uint32) (uint64, bool)
	WriteByte(offset uint32, v byte) bool
	WriteUint32Le(offset, v uint32) bool
	WriteUint64Le(offset uint32, v uint64) bool
}

// LinearMemory is a growable little-endian byte region with a bump
// allocator. It stands in for a host runtime's memory when the host calls
// the bridge from native Go.
type LinearMemory struct {
	buf  []byte
	next uint32
}

// NewLinearMemory creates a memory of the given size. The first 8 bytes are
// reserved so that address 0 is never handed out.
func NewLinearMemory(size uint32) *LinearMemory {
	return &LinearMemory{buf: make([]byte, size), next: 8}
}

// Alloc reserves n bytes aligned to 8 and returns their address, growing
// the region when needed.
func (m *LinearMemory) Alloc(n uint32) uint32 {
	addr := align8(m.next)
	end := uint64(addr) + uint64(n)
	if end > uint64(^uint32(0)) {
		panic(errors.Wrapf(ErrProtocol, "linear memory exhausted allocating %d bytes", n))
	}
	if end > uint64(len(m.buf)) {
		grown := make([]byte, max(end, uint64(2*len(m.buf))))
		copy(grown, m.buf)
		m.buf = grown
	}
	m.next = uint32(end)
	return addr
}

// Reset releases every allocation.
func (m *LinearMemory) Reset() {
	clear(m.buf)
	m.next = 8
}

func (m *LinearMemory) Size() uint32 {
	return uint32(len(m.buf))
}

func (m *LinearMemory) inBounds(offset, n uint32) bool {
	return uint64(offset)+uint64(n) <= uint64(len(m.buf))
}

func (m *LinearMemory) Read(offset, byteCount uint32) ([]byte, bool) {
	if !m.inBounds(offset, byteCount) {
		return nil, false
	}
	return m.buf[offset : offset+byteCount : offset+byteCount], true
}

func (m *LinearMemory) Write(offset uint32, v []byte) bool {
	if !m.inBounds(offset, uint32(len(v))) {
		return false
	}
	copy(m.buf[offset:], v)
	return true
}

func (m *LinearMemory) ReadUint32Le(offset uint32) (uint32, bool) {
	if !m.inBounds(offset, 4) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(m.buf[offset:]), true
}

func (m *LinearMemory) ReadUint64Le(offset uint32) (uint64, bool) {
	if !m.inBounds(offset, 8) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(m.buf[offset:]), true
}

func (m *LinearMemory) WriteByte(offset uint32, v byte) bool {
	if !m.inBounds(offset, 1) {
		return false
	}
	m.buf[offset] = v
	return true
}

func (m *LinearMemory) WriteUint32Le(offset, v uint32) bool {
	if !m.inBounds(offset, 4) {
		return false
	}
	binary.LittleEndian.PutUint32(m.buf[offset:], v)
	return true
}

func (m *LinearMemory) WriteUint64Le(offset uint32, v uint64) bool {
	if !m.inBounds(offset, 8) {
		return false
	}
	binary.LittleEndian.PutUint64(m.buf[offset:], v)
	return true
}

func align8(x uint32) uint32 {
	return (x + 7) &^ 7
}

// Package gostack implements the calling convention used by a Go (js/wasm)
// host runtime when it calls into the bridge: arguments and results live in
// the host's linear memory, starting one word above the stack pointer, and
// are read and written in declaration order by a single cursor.
package gostack

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// ErrProtocol marks a violation of the calling convention: an out of bounds
// access or a field read out of its declared order. It is never recovered by
// the bridge; the call is aborted.
var ErrProtocol = errors.New("calling convention violation")

// Kind is the encoded form of one stack field.
type Kind uint8

const (
	U8    Kind = iota + 1 // 1 byte
	U32                   // 4 bytes
	U64                   // 8 bytes
	Ptr                   // 8 bytes, handle or address
	Slice                 // 24 bytes: ptr, len, cap
	Pad                   // alignment to the next 8 byte boundary
	Skip                  // 8 bytes, read and discarded
)

var kindNames = map[Kind]string{
	U8: "u8", U32: "u32", U64: "u64", Ptr: "ptr", Slice: "slice", Pad: "pad", Skip: "skip",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Layout is the ordered list of fields an entry point reads and writes.
// It is the protocol between the host and the bridge for that entry point.
type Layout []Kind

// Size returns the number of bytes the layout occupies above sp+8.
func (l Layout) Size() uint32 {
	var size uint32
	for _, kind := range l {
		switch kind {
		case U8:
			size++
		case U32:
			size += 4
		case U64, Ptr, Skip:
			size += 8
		case Slice:
			size += 24
		case Pad:
			size = align8(size)
		}
	}
	return size
}

// GoStack is a sequential cursor over one call's argument and result area.
// It owns no memory and must not outlive the call it was created for.
type GoStack struct {
	mem    Memory
	sp     uint32
	top    uint32
	layout Layout
	field  int
}

// New creates a cursor for the frame at sp. When layout is non-nil every
// operation is checked against it.
func New(mem Memory, sp uint32, layout Layout) *GoStack {
	return &GoStack{mem: mem, sp: sp, top: sp + 8, layout: layout}
}

// Offset returns the number of bytes consumed since the first field.
func (s *GoStack) Offset() uint32 {
	return s.top - s.sp - 8
}

func fail(format string, args ...any) {
	panic(errors.Wrapf(ErrProtocol, format, args...))
}

func (s *GoStack) expect(kind Kind) {
	if s.layout == nil {
		return
	}
	if s.field >= len(s.layout) {
		fail("field %d (%s) beyond layout of %d fields", s.field, kind, len(s.layout))
	}
	if want := s.layout[s.field]; want != kind {
		fail("field %d is %s, accessed as %s", s.field, want, kind)
	}
	s.field++
}

// Done asserts that the whole layout was consumed.
func (s *GoStack) Done() {
	if s.layout != nil && s.field != len(s.layout) {
		fail("layout consumed %d of %d fields", s.field, len(s.layout))
	}
}

func (s *GoStack) advance(n uint32) uint32 {
	addr := s.top
	s.top += n
	return addr
}

func (s *GoStack) ReadU8() uint8 {
	s.expect(U8)
	addr := s.advance(1)
	b, ok := s.mem.Read(addr, 1)
	if !ok {
		fail("read u8 at %#x", addr)
	}
	return b[0]
}

func (s *GoStack) ReadU32() uint32 {
	s.expect(U32)
	addr := s.advance(4)
	v, ok := s.mem.ReadUint32Le(addr)
	if !ok {
		fail("read u32 at %#x", addr)
	}
	return v
}

func (s *GoStack) ReadU64() uint64 {
	s.expect(U64)
	return s.readWord()
}

// ReadPtr reads a handle-sized word: either a handle issued by the bridge
// or an address in the host's memory.
func (s *GoStack) ReadPtr() uint64 {
	s.expect(Ptr)
	return s.readWord()
}

func (s *GoStack) readWord() uint64 {
	addr := s.advance(8)
	v, ok := s.mem.ReadUint64Le(addr)
	if !ok {
		fail("read u64 at %#x", addr)
	}
	return v
}

// ReadGoSliceOwned reads a Go slice header and copies the bytes it
// references. The host's memory is not retained.
func (s *GoStack) ReadGoSliceOwned() []byte {
	s.expect(Slice)
	ptr := s.readWord()
	length := s.readWord()
	s.advance(8) // capacity
	if length == 0 {
		return []byte{}
	}
	addr := toAddr(ptr)
	data, ok := s.mem.Read(addr, toAddr(length))
	if !ok {
		fail("read %d byte slice at %#x", length, ptr)
	}
	owned := make([]byte, len(data))
	copy(owned, data)
	return owned
}

// ReadU64Raw reads a word at an arbitrary host address without moving the
// cursor.
func (s *GoStack) ReadU64Raw(ptr uint64) uint64 {
	v, ok := s.mem.ReadUint64Le(toAddr(ptr))
	if !ok {
		fail("read u64 at raw address %#x", ptr)
	}
	return v
}

func (s *GoStack) WriteU8(v uint8) *GoStack {
	s.expect(U8)
	addr := s.advance(1)
	if !s.mem.WriteByte(addr, v) {
		fail("write u8 at %#x", addr)
	}
	return s
}

func (s *GoStack) WriteU32(v uint32) *GoStack {
	s.expect(U32)
	addr := s.advance(4)
	if !s.mem.WriteUint32Le(addr, v) {
		fail("write u32 at %#x", addr)
	}
	return s
}

func (s *GoStack) WriteU64(v uint64) *GoStack {
	s.expect(U64)
	s.writeWord(v)
	return s
}

func (s *GoStack) WritePtr(v uint64) *GoStack {
	s.expect(Ptr)
	s.writeWord(v)
	return s
}

func (s *GoStack) WriteNullptr() *GoStack {
	return s.WritePtr(0)
}

func (s *GoStack) writeWord(v uint64) {
	addr := s.advance(8)
	if !s.mem.WriteUint64Le(addr, v) {
		fail("write u64 at %#x", addr)
	}
}

// WriteGoSlice writes a slice header for length bytes at ptr. It is the
// host's side of ReadGoSliceOwned.
func (s *GoStack) WriteGoSlice(ptr uint64, length uint64) *GoStack {
	s.expect(Slice)
	s.writeWord(ptr)
	s.writeWord(length)
	s.writeWord(length)
	return s
}

// WriteSlice copies data into host memory at ptr. The host guarantees the
// destination is large enough.
func (s *GoStack) WriteSlice(ptr uint64, data []byte) {
	if len(data) == 0 {
		return
	}
	if !s.mem.Write(toAddr(ptr), data) {
		fail("write %d bytes at raw address %#x", len(data), ptr)
	}
}

// WriteU64Raw writes a word at an arbitrary host address without moving
// the cursor.
func (s *GoStack) WriteU64Raw(ptr, v uint64) {
	if !s.mem.WriteUint64Le(toAddr(ptr), v) {
		fail("write u64 at raw address %#x", ptr)
	}
}

// SkipSpace pads the cursor to the next word boundary.
func (s *GoStack) SkipSpace() *GoStack {
	s.expect(Pad)
	s.top = s.sp + 8 + align8(s.Offset())
	return s
}

// SkipU64 consumes one word without interpreting it.
func (s *GoStack) SkipU64() *GoStack {
	s.expect(Skip)
	s.advance(8)
	return s
}

func toAddr(v uint64) uint32 {
	if v > math.MaxUint32 {
		fail("address %#x exceeds 32-bit memory", v)
	}
	return uint32(v)
}

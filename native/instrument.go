package native

import (
	"bytes"
	"math"

	"github.com/pkg/errors"
)

// Programs pay for loops through two globals added at compile time. Every
// loop header is prefixed with a charge for the straight-line code that
// follows it, taken from the ink global. When the charge cannot be paid
// the budget is zeroed, the status global is raised and the program traps.
const (
	inkGlobalExport    = "stylus_ink_left"
	statusGlobalExport = "stylus_ink_status"
)

var wasmHeader = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

const (
	sectionCustom = 0
	sectionImport = 2
	sectionGlobal = 6
	sectionExport = 7
	sectionCode   = 10
)

const (
	opUnreachable  = 0x00
	opBlock        = 0x02
	opLoop         = 0x03
	opIf           = 0x04
	opElse         = 0x05
	opEnd          = 0x0b
	opBr           = 0x0c
	opBrIf         = 0x0d
	opBrTable      = 0x0e
	opReturn       = 0x0f
	opCall         = 0x10
	opCallIndirect = 0x11
	opGlobalGet    = 0x23
	opGlobalSet    = 0x24
	opI32Const     = 0x41
	opI64Const     = 0x42
	opI64LtU       = 0x54
	opI64Sub       = 0x7d
	opMisc         = 0xfc

	blockEmpty = 0x40
)

// sectionRank orders the known sections as the binary format requires.
// The data count section sits between element and code.
func sectionRank(id byte) int {
	switch id {
	case 12:
		return 10
	case 10:
		return 11
	case 11:
		return 12
	default:
		return int(id)
	}
}

type section struct {
	id      byte
	payload []byte
}

type instrumenter struct {
	opcodeInk uint64
	ink       uint32
	status    uint32
}

// instrument adds loop metering to wasm. opcodeInk is the price of a single
// instruction inside a loop iteration.
func instrument(wasm []byte, opcodeInk uint64) ([]byte, error) {
	sections, err := parseSections(wasm)
	if err != nil {
		return nil, err
	}

	var imported, defined uint32
	for _, s := range sections {
		switch s.id {
		case sectionImport:
			if imported, err = countImportedGlobals(s.payload); err != nil {
				return nil, err
			}
		case sectionGlobal:
			r := reader{buf: s.payload}
			if defined = r.u32(); r.err != nil {
				return nil, r.err
			}
		}
	}
	in := &instrumenter{opcodeInk: opcodeInk, ink: imported + defined, status: imported + defined + 1}

	out := bytes.Clone(wasmHeader)
	emit := func(id byte, payload []byte) {
		out = append(out, id)
		out = appendULEB(out, uint32(len(payload)))
		out = append(out, payload...)
	}
	var haveGlobals, haveExports bool
	flush := func(rank int) error {
		if !haveGlobals && rank > sectionRank(sectionGlobal) {
			payload, err := in.globals(nil)
			if err != nil {
				return err
			}
			emit(sectionGlobal, payload)
			haveGlobals = true
		}
		if !haveExports && rank > sectionRank(sectionExport) {
			payload, err := in.exports(nil)
			if err != nil {
				return err
			}
			emit(sectionExport, payload)
			haveExports = true
		}
		return nil
	}

	for _, s := range sections {
		if s.id != sectionCustom {
			if err := flush(sectionRank(s.id)); err != nil {
				return nil, err
			}
		}
		payload := s.payload
		switch s.id {
		case sectionGlobal:
			payload, err = in.globals(s.payload)
			haveGlobals = true
		case sectionExport:
			payload, err = in.exports(s.payload)
			haveExports = true
		case sectionCode:
			payload, err = in.code(s.payload)
		}
		if err != nil {
			return nil, err
		}
		emit(s.id, payload)
	}
	if err := flush(math.MaxInt); err != nil {
		return nil, err
	}
	return out, nil
}

func parseSections(wasm []byte) ([]section, error) {
	if !bytes.HasPrefix(wasm, wasmHeader) {
		return nil, errors.Wrap(ErrMalformedWasm, "bad magic or version")
	}
	var sections []section
	r := reader{buf: wasm, pos: len(wasmHeader)}
	for !r.done() {
		id := r.readByte()
		payload := r.bytes(r.u32())
		if r.err != nil {
			return nil, r.err
		}
		sections = append(sections, section{id: id, payload: payload})
	}
	return sections, nil
}

func countImportedGlobals(payload []byte) (uint32, error) {
	r := reader{buf: payload}
	var globals uint32
	for n := r.u32(); n > 0 && r.err == nil; n-- {
		r.bytes(r.u32()) // module
		r.bytes(r.u32()) // name
		switch kind := r.readByte(); kind {
		case 0x00:
			r.u32()
		case 0x01:
			r.readByte()
			r.limits()
		case 0x02:
			r.limits()
		case 0x03:
			r.readByte()
			r.readByte()
			globals++
		default:
			r.fail("unknown import kind %#x", kind)
		}
	}
	return globals, r.err
}

// globals appends the ink and status globals to a global section.
func (in *instrumenter) globals(payload []byte) ([]byte, error) {
	var count uint32
	var rest []byte
	if payload != nil {
		r := reader{buf: payload}
		count = r.u32()
		if r.err != nil {
			return nil, r.err
		}
		rest = payload[r.pos:]
	}
	out := appendULEB(nil, count+2)
	out = append(out, rest...)
	out = append(out, 0x7e, 0x01, opI64Const, 0x00, opEnd)
	out = append(out, 0x7f, 0x01, opI32Const, 0x00, opEnd)
	return out, nil
}

// exports appends the exports of the metering globals to an export section.
func (in *instrumenter) exports(payload []byte) ([]byte, error) {
	var count uint32
	var rest []byte
	if payload != nil {
		r := reader{buf: payload}
		count = r.u32()
		start := r.pos
		for i := uint32(0); i < count && r.err == nil; i++ {
			name := string(r.bytes(r.u32()))
			r.readByte()
			r.u32()
			if name == inkGlobalExport || name == statusGlobalExport {
				return nil, errors.Wrap(ErrReservedExport, name)
			}
		}
		if r.err != nil {
			return nil, r.err
		}
		rest = payload[start:]
	}
	out := appendULEB(nil, count+2)
	out = append(out, rest...)
	out = appendName(out, inkGlobalExport)
	out = append(out, 0x03)
	out = appendULEB(out, in.ink)
	out = appendName(out, statusGlobalExport)
	out = append(out, 0x03)
	out = appendULEB(out, in.status)
	return out, nil
}

func (in *instrumenter) code(payload []byte) ([]byte, error) {
	r := reader{buf: payload}
	count := r.u32()
	out := appendULEB(nil, count)
	for i := uint32(0); i < count && r.err == nil; i++ {
		body := r.bytes(r.u32())
		if r.err != nil {
			break
		}
		rewritten, err := in.body(body)
		if err != nil {
			return nil, errors.Wrapf(err, "function %d", i)
		}
		out = appendULEB(out, uint32(len(rewritten)))
		out = append(out, rewritten...)
	}
	if r.err != nil {
		return nil, r.err
	}
	return out, nil
}

type instruction struct {
	start, end int
	op         byte
}

func (in *instrumenter) body(body []byte) ([]byte, error) {
	r := reader{buf: body}
	for n := r.u32(); n > 0 && r.err == nil; n-- {
		r.u32()
		r.readByte()
	}
	if r.err != nil {
		return nil, r.err
	}
	locals := r.pos

	var instrs []instruction
	for !r.done() {
		start := r.pos
		op := r.readByte()
		r.immediates(op)
		instrs = append(instrs, instruction{start: start, end: r.pos, op: op})
	}
	if r.err != nil {
		return nil, r.err
	}

	out := bytes.Clone(body[:locals])
	for i, instr := range instrs {
		out = append(out, body[instr.start:instr.end]...)
		if instr.op == opLoop {
			out = in.charge(out, in.opcodeInk*straightLine(instrs[i+1:]))
		}
	}
	return out, nil
}

// straightLine counts the instructions up to and including the next one
// that transfers control.
func straightLine(instrs []instruction) uint64 {
	var n uint64
	for _, instr := range instrs {
		n++
		if transfersControl(instr.op) {
			break
		}
	}
	return max(n, 1)
}

func transfersControl(op byte) bool {
	switch op {
	case opUnreachable, opBlock, opLoop, opIf, opElse, opEnd,
		opBr, opBrIf, opBrTable, opReturn, opCall, opCallIndirect:
		return true
	}
	return false
}

func (in *instrumenter) charge(out []byte, cost uint64) []byte {
	out = append(out, opGlobalGet)
	out = appendULEB(out, in.ink)
	out = append(out, opI64Const)
	out = appendSLEB(out, int64(cost))
	out = append(out, opI64LtU, opIf, blockEmpty)
	out = append(out, opI64Const, 0x00, opGlobalSet)
	out = appendULEB(out, in.ink)
	out = append(out, opI32Const, 0x01, opGlobalSet)
	out = appendULEB(out, in.status)
	out = append(out, opUnreachable, opEnd)
	out = append(out, opGlobalGet)
	out = appendULEB(out, in.ink)
	out = append(out, opI64Const)
	out = appendSLEB(out, int64(cost))
	out = append(out, opI64Sub, opGlobalSet)
	return appendULEB(out, in.ink)
}

// reader decodes a wasm byte stream. The first failure sticks and turns
// every later read into a no-op.
type reader struct {
	buf []byte
	pos int
	err error
}

func (r *reader) done() bool {
	return r.err != nil || r.pos >= len(r.buf)
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = errors.Wrapf(ErrMalformedWasm, format, args...)
	}
}

func (r *reader) readByte() byte {
	if r.err != nil {
		return 0
	}
	if r.pos >= len(r.buf) {
		r.fail("unexpected end at offset %d", r.pos)
		return 0
	}
	b := r.buf[r.pos]
	r.pos++
	return b
}

func (r *reader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	v, n := readLEB(r.buf[r.pos:])
	if n == 0 {
		r.fail("bad integer at offset %d", r.pos)
		return 0
	}
	r.pos += n
	return v
}

func (r *reader) skipLEB(maxLen int) {
	for i := 0; i < maxLen; i++ {
		if r.readByte()&0x80 == 0 {
			return
		}
	}
	r.fail("integer too long at offset %d", r.pos)
}

func (r *reader) bytes(n uint32) []byte {
	if r.err != nil {
		return nil
	}
	if uint64(r.pos)+uint64(n) > uint64(len(r.buf)) {
		r.fail("unexpected end at offset %d", r.pos)
		return nil
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b
}

func (r *reader) limits() {
	if flags := r.readByte(); flags&0x01 != 0 {
		r.u32()
	}
	r.u32()
}

func (r *reader) blockType() {
	if r.pos < len(r.buf) {
		switch r.buf[r.pos] {
		case blockEmpty, 0x7f, 0x7e, 0x7d, 0x7c, 0x70, 0x6f:
			r.pos++
			return
		}
	}
	r.skipLEB(5)
}

// immediates skips the operands of op.
func (r *reader) immediates(op byte) {
	switch {
	case op == opBlock || op == opLoop || op == opIf:
		r.blockType()
	case op == opBr || op == opBrIf || op == opCall:
		r.u32()
	case op == opBrTable:
		for n := r.u32(); r.err == nil; n-- {
			r.u32()
			if n == 0 {
				break
			}
		}
	case op == opCallIndirect:
		r.u32()
		r.u32()
	case op == 0x1c: // select with types
		r.bytes(r.u32())
	case op >= 0x20 && op <= 0x26: // locals, globals, table.get/set
		r.u32()
	case op >= 0x28 && op <= 0x3e: // loads and stores
		r.u32()
		r.u32()
	case op == 0x3f || op == 0x40:
		r.u32()
	case op == opI32Const:
		r.skipLEB(5)
	case op == opI64Const:
		r.skipLEB(10)
	case op == 0x43:
		r.bytes(4)
	case op == 0x44:
		r.bytes(8)
	case op == 0xd0:
		r.readByte()
	case op == 0xd2:
		r.u32()
	case op == opMisc:
		r.misc()
	case op <= 0x01, op == opElse, op == opEnd, op == opReturn, op == 0x1a, op == 0x1b,
		op >= 0x45 && op <= 0xc4, op == 0xd1:
	default:
		r.fail("unsupported opcode %#x at offset %d", op, r.pos-1)
	}
}

func (r *reader) misc() {
	switch sub := r.u32(); sub {
	case 0, 1, 2, 3, 4, 5, 6, 7: // saturating truncation
	case 8: // memory.init
		r.u32()
		r.readByte()
	case 9, 13, 15, 16, 17:
		r.u32()
	case 10: // memory.copy
		r.readByte()
		r.readByte()
	case 11: // memory.fill
		r.readByte()
	case 12, 14:
		r.u32()
		r.u32()
	default:
		r.fail("unsupported opcode 0xfc %d", sub)
	}
}

func appendName(out []byte, name string) []byte {
	out = appendULEB(out, uint32(len(name)))
	return append(out, name...)
}

func appendULEB(out []byte, v uint32) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, c)
		}
		out = append(out, c|0x80)
	}
}

func appendSLEB(out []byte, v int64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(out, c)
		}
		out = append(out, c|0x80)
	}
}

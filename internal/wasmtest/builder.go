// Package wasmtest assembles small wasm binaries for tests.
package wasmtest

// Value types.
const (
	I32 byte = 0x7f
	I64 byte = 0x7e
)

const (
	sectionType     = 1
	sectionImport   = 2
	sectionFunction = 3
	sectionMemory   = 5
	sectionExport   = 7
	sectionStart    = 8
	sectionCode     = 10
	sectionData     = 11
)

type funcType struct {
	params, results []byte
}

type importFunc struct {
	module, name string
	typ          int
}

type function struct {
	typ    int
	locals []byte
	body   []byte
}

type export struct {
	name string
	kind byte
	idx  uint32
}

type segment struct {
	offset int32
	data   []byte
}

// Builder accumulates the parts of a module. Imports must be declared
// before any function so that indices stay stable.
type Builder struct {
	types   []funcType
	imports []importFunc
	funcs   []function
	pages   uint32
	memory  bool
	exports []export
	start   *uint32
	data    []segment
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) typeIndex(params, results []byte) int {
	b.types = append(b.types, funcType{params: params, results: results})
	return len(b.types) - 1
}

// Import declares an imported function and returns its index.
func (b *Builder) Import(module, name string, params, results []byte) uint32 {
	if len(b.funcs) != 0 {
		panic("wasmtest: imports must precede functions")
	}
	b.imports = append(b.imports, importFunc{module: module, name: name, typ: b.typeIndex(params, results)})
	return uint32(len(b.imports) - 1)
}

// Func defines a function and returns its index. The trailing end opcode
// is added by the builder.
func (b *Builder) Func(params, results, locals []byte, body ...[]byte) uint32 {
	var code []byte
	for _, instr := range body {
		code = append(code, instr...)
	}
	b.funcs = append(b.funcs, function{typ: b.typeIndex(params, results), locals: locals, body: code})
	return uint32(len(b.imports) + len(b.funcs) - 1)
}

// Memory declares a linear memory exported as "memory".
func (b *Builder) Memory(pages uint32) *Builder {
	b.memory = true
	b.pages = pages
	b.exports = append(b.exports, export{name: "memory", kind: 0x02})
	return b
}

// Export exports a function.
func (b *Builder) Export(name string, idx uint32) *Builder {
	b.exports = append(b.exports, export{name: name, kind: 0x00, idx: idx})
	return b
}

// Start marks idx as the module's start function.
func (b *Builder) Start(idx uint32) *Builder {
	b.start = &idx
	return b
}

// Data places bytes in memory at offset when the module is instantiated.
func (b *Builder) Data(offset int32, data []byte) *Builder {
	b.data = append(b.data, segment{offset: offset, data: data})
	return b
}

// Bytes encodes the module.
func (b *Builder) Bytes() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	var types []byte
	types = appendU32(types, uint32(len(b.types)))
	for _, t := range b.types {
		types = append(types, 0x60)
		types = appendBytes(types, t.params)
		types = appendBytes(types, t.results)
	}
	out = appendSection(out, sectionType, types)

	if len(b.imports) != 0 {
		var imports []byte
		imports = appendU32(imports, uint32(len(b.imports)))
		for _, imp := range b.imports {
			imports = appendName(imports, imp.module)
			imports = appendName(imports, imp.name)
			imports = append(imports, 0x00)
			imports = appendU32(imports, uint32(imp.typ))
		}
		out = appendSection(out, sectionImport, imports)
	}

	var funcs []byte
	funcs = appendU32(funcs, uint32(len(b.funcs)))
	for _, f := range b.funcs {
		funcs = appendU32(funcs, uint32(f.typ))
	}
	out = appendSection(out, sectionFunction, funcs)

	if b.memory {
		mem := []byte{1, 0x00}
		mem = appendU32(mem, b.pages)
		out = appendSection(out, sectionMemory, mem)
	}

	var exports []byte
	exports = appendU32(exports, uint32(len(b.exports)))
	for _, e := range b.exports {
		exports = appendName(exports, e.name)
		exports = append(exports, e.kind)
		exports = appendU32(exports, e.idx)
	}
	out = appendSection(out, sectionExport, exports)

	if b.start != nil {
		out = appendSection(out, sectionStart, appendU32(nil, *b.start))
	}

	var code []byte
	code = appendU32(code, uint32(len(b.funcs)))
	for _, f := range b.funcs {
		var body []byte
		body = appendU32(body, uint32(len(f.locals)))
		for _, local := range f.locals {
			body = append(body, 1, local)
		}
		body = append(body, f.body...)
		body = append(body, 0x0b)
		code = appendBytes(code, body)
	}
	out = appendSection(out, sectionCode, code)

	if len(b.data) != 0 {
		var data []byte
		data = appendU32(data, uint32(len(b.data)))
		for _, seg := range b.data {
			data = append(data, 0x00)
			data = append(data, I32Const(seg.offset)...)
			data = append(data, 0x0b)
			data = appendBytes(data, seg.data)
		}
		out = appendSection(out, sectionData, data)
	}
	return out
}

func appendSection(out []byte, id byte, payload []byte) []byte {
	out = append(out, id)
	return appendBytes(out, payload)
}

func appendBytes(out, data []byte) []byte {
	out = appendU32(out, uint32(len(data)))
	return append(out, data...)
}

func appendName(out []byte, name string) []byte {
	return appendBytes(out, []byte(name))
}

func appendU32(out []byte, v uint32) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, c|0x80)
			continue
		}
		return append(out, c)
	}
}

func appendS64(out []byte, v int64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(out, c)
		}
		out = append(out, c|0x80)
	}
}

// Instructions.

func LocalGet(idx uint32) []byte { return appendU32([]byte{0x20}, idx) }
func LocalSet(idx uint32) []byte { return appendU32([]byte{0x21}, idx) }
func Call(idx uint32) []byte     { return appendU32([]byte{0x10}, idx) }
func I32Const(v int32) []byte    { return appendS64([]byte{0x41}, int64(v)) }
func I64Const(v int64) []byte    { return appendS64([]byte{0x42}, v) }
func Br(depth uint32) []byte     { return appendU32([]byte{0x0c}, depth) }
func BrIf(depth uint32) []byte   { return appendU32([]byte{0x0d}, depth) }

// I32Load loads a word from the address on the stack plus offset.
func I32Load(offset uint32) []byte {
	return appendU32([]byte{0x28, 0x02}, offset)
}

var (
	Unreachable = []byte{0x00}
	Block       = []byte{0x02, 0x40}
	Loop        = []byte{0x03, 0x40}
	End         = []byte{0x0b}
	Drop        = []byte{0x1a}
	I32Eqz      = []byte{0x45}
	I32Add      = []byte{0x6a}
	I32Sub      = []byte{0x6b}
)

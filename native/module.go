package native

import (
	"bytes"
	"crypto/sha256"

	"github.com/pkg/errors"
	"github.com/shamaton/msgpack/v2"
)

const entrypoint = "user_entrypoint"

// moduleEnvelope is the serialized form of a compiled program handed to the
// host between compile and execute.
type moduleEnvelope struct {
	Version  uint32 `msgpack:"version"`
	Checksum []byte `msgpack:"checksum"`
	Wasm     []byte `msgpack:"wasm"`
}

func encodeModule(version uint32, checksum [32]byte, wasm []byte) ([]byte, error) {
	data, err := msgpack.Marshal(&moduleEnvelope{
		Version:  version,
		Checksum: checksum[:],
		Wasm:     wasm,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode module")
	}
	return data, nil
}

func decodeModule(data []byte) (*moduleEnvelope, [32]byte, error) {
	var env moduleEnvelope
	var checksum [32]byte
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, checksum, errors.Wrap(ErrModuleCorrupt, err.Error())
	}
	checksum = sha256.Sum256(env.Wasm)
	if !bytes.Equal(checksum[:], env.Checksum) {
		return nil, checksum, errors.Wrap(ErrModuleCorrupt, "checksum mismatch")
	}
	return &env, checksum, nil
}

// hasStartSection scans the section headers of a wasm binary for a start
// section. The binary is assumed to have passed validation.
func hasStartSection(wasm []byte) bool {
	const startSection = 8
	pos := 8 // magic and version
	for pos < len(wasm) {
		id := wasm[pos]
		pos++
		size, n := readLEB(wasm[pos:])
		if n == 0 {
			return false
		}
		if id == startSection {
			return true
		}
		pos += n + int(size)
	}
	return false
}

func readLEB(b []byte) (uint32, int) {
	var result uint32
	var shift uint
	for i, c := range b {
		if i == 5 {
			return 0, 0
		}
		result |= uint32(c&0x7f) << shift
		if c&0x80 == 0 {
			return result, i + 1
		}
		shift += 7
	}
	return 0, 0
}

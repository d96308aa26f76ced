package ivf

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeClusterID encodes id as a self-terminating signed varint, the
// standard library's zig-zag LEB128 — functionally identical to
// RocksDB's PutVarsignedint64, and self-delimiting so prefix∥primary_key
// concatenation is unambiguous without a separate length byte.
func EncodeClusterID(id int32) []byte {
	return binary.AppendVarint(nil, int64(id))
}

// DecodeClusterID decodes a cluster id encoded by EncodeClusterID,
// reporting how many bytes of b it consumed.
func DecodeClusterID(b []byte) (id int32, n int, err error) {
	v, n := binary.Varint(b)
	if n <= 0 {
		return 0, 0, fmt.Errorf("ivf: corrupt cluster id encoding")
	}
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, 0, fmt.Errorf("ivf: cluster id %d out of int32 range", v)
	}
	return int32(v), n, nil
}

// Float32sToBytes reinterprets a float32 slice as its little-endian byte
// representation. The system is not portable across endiannesses by
// design.
func Float32sToBytes(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(x))
	}
	return out
}

// BytesToFloat32s is the inverse of Float32sToBytes; len(b) must be a
// multiple of 4.
func BytesToFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("ivf: byte slice length %d is not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

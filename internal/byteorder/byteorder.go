package byteorder

import (
	"encoding/binary"
)

// https://linux.die.net/man/3/le32toh
//
// protobuf fixed32/fixed64 (and float/double) payloads are little-endian
// regardless of host.

// decrypt names:
// le = little endian
// h  = host
// 32 = fixed32, float
// 64 = fixed64, double

// Le32toh expects len(buf) >= 4.
func Le32toh(buf []byte) uint32 {
	return binary.LittleEndian.Uint32(buf)
}

// Le64toh expects len(buf) >= 8.
func Le64toh(buf []byte) uint64 {
	return binary.LittleEndian.Uint64(buf)
}

package ephemeral

import (
	"encoding/binary"
	"fmt"
)

// EncodeSnapshot serializes a key/value map into the store's own compact
// binary wire format: a four-byte entry count, then per entry a
// length-prefixed key and a length-prefixed value. It deliberately avoids
// JSON so ephemeral gossip frames, sent far more often than document sync
// frames, stay small.
func EncodeSnapshot(m map[string][]byte) []byte {
	size := 4
	for k, v := range m {
		size += 4 + len(k) + 4 + len(v)
	}
	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf, uint32(len(m)))
	offset := 4
	for k, v := range m {
		offset = putChunk(buf, offset, []byte(k))
		offset = putChunk(buf, offset, v)
	}
	return buf
}

func putChunk(buf []byte, offset int, chunk []byte) int {
	binary.BigEndian.PutUint32(buf[offset:], uint32(len(chunk)))
	offset += 4
	copy(buf[offset:], chunk)
	return offset + len(chunk)
}

// DecodeSnapshot is the inverse of EncodeSnapshot.
func DecodeSnapshot(data []byte) (map[string][]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("ephemeral: snapshot too short")
	}
	count := binary.BigEndian.Uint32(data)
	offset := 4
	out := make(map[string][]byte, count)
	for i := uint32(0); i < count; i++ {
		key, next, err := readChunk(data, offset)
		if err != nil {
			return nil, err
		}
		offset = next
		value, next, err := readChunk(data, offset)
		if err != nil {
			return nil, err
		}
		offset = next
		out[string(key)] = value
	}
	return out, nil
}

func readChunk(data []byte, offset int) ([]byte, int, error) {
	if offset+4 > len(data) {
		return nil, 0, fmt.Errorf("ephemeral: truncated snapshot at offset %d", offset)
	}
	n := int(binary.BigEndian.Uint32(data[offset:]))
	offset += 4
	if offset+n > len(data) {
		return nil, 0, fmt.Errorf("ephemeral: truncated chunk at offset %d", offset)
	}
	return data[offset : offset+n], offset + n, nil
}

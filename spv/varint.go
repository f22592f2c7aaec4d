package spv

import (
	"bytes"
	"encoding/binary"
)

// readVarInt reads a Bitcoin variable-length integer.
func readVarInt(r *bytes.Reader) (uint64, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch prefix {
	case 0xfd:
		var v uint16
		err = binary.Read(r, binary.LittleEndian, &v)
		return uint64(v), err
	case 0xfe:
		var v uint32
		err = binary.Read(r, binary.LittleEndian, &v)
		return uint64(v), err
	case 0xff:
		var v uint64
		err = binary.Read(r, binary.LittleEndian, &v)
		return v, err
	default:
		return uint64(prefix), nil
	}
}

// writeVarInt appends the minimal varint encoding of v to buf.
func writeVarInt(buf *bytes.Buffer, v uint64) {
	switch {
	case v < 0xfd:
		buf.WriteByte(byte(v))
	case v <= 0xffff:
		buf.WriteByte(0xfd)
		binary.Write(buf, binary.LittleEndian, uint16(v))
	case v <= 0xffffffff:
		buf.WriteByte(0xfe)
		binary.Write(buf, binary.LittleEndian, uint32(v))
	default:
		buf.WriteByte(0xff)
		binary.Write(buf, binary.LittleEndian, v)
	}
}

package tx

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
)

// efMarker follows the version field in the extended format, occupying
// the space of an empty input count.
var efMarker = []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0xef}

// EFBytes serializes the transaction in extended format: each input
// additionally carries its source output's amount and locking script.
// Every input must have its source output populated.
func (t *Transaction) EFBytes() ([]byte, error) {
	for i, in := range t.Inputs {
		if in.SourceSatoshis == nil || in.SourceLockingScript == nil {
			return nil, fmt.Errorf("%w: input %d", ErrMissingSourceOutput, i)
		}
	}

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, t.Version)
	buf.Write(efMarker)
	writeVarInt(&buf, uint64(len(t.Inputs)))
	for _, in := range t.Inputs {
		writeInput(&buf, in, true)
	}
	writeVarInt(&buf, uint64(len(t.Outputs)))
	for _, out := range t.Outputs {
		writeOutput(&buf, out)
	}
	binary.Write(&buf, binary.LittleEndian, t.LockTime)
	return buf.Bytes(), nil
}

// EFHex returns the hex encoding of EFBytes.
func (t *Transaction) EFHex() (string, error) {
	b, err := t.EFBytes()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// IsEF reports whether b carries the extended-format marker.
func IsEF(b []byte) bool {
	return len(b) >= 10 && bytes.Equal(b[4:10], efMarker)
}

// FromEFBytes decodes an extended-format transaction. The result's
// inputs carry their source amounts and locking scripts.
func FromEFBytes(b []byte) (*Transaction, error) {
	if !IsEF(b) {
		return nil, fmt.Errorf("%w: missing extended format marker", ErrMalformedTransaction)
	}
	r := bytes.NewReader(b)

	t := &Transaction{}
	if err := binary.Read(r, binary.LittleEndian, &t.Version); err != nil {
		return nil, fmt.Errorf("%w: version: %w", ErrMalformedTransaction, err)
	}
	if _, err := r.Seek(int64(len(efMarker)), io.SeekCurrent); err != nil {
		return nil, fmt.Errorf("%w: marker: %w", ErrMalformedTransaction, err)
	}

	inputCount, err := readVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("%w: input count: %w", ErrMalformedTransaction, err)
	}
	if inputCount > uint64(r.Len()) {
		return nil, fmt.Errorf("%w: input count %d exceeds payload", ErrMalformedTransaction, inputCount)
	}
	for i := uint64(0); i < inputCount; i++ {
		in, err := readInput(r, true)
		if err != nil {
			return nil, fmt.Errorf("%w: input %d: %w", ErrMalformedTransaction, i, err)
		}
		t.Inputs = append(t.Inputs, in)
	}

	outputCount, err := readVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("%w: output count: %w", ErrMalformedTransaction, err)
	}
	for i := uint64(0); i < outputCount; i++ {
		out, err := readOutput(r)
		if err != nil {
			return nil, fmt.Errorf("%w: output %d: %w", ErrMalformedTransaction, i, err)
		}
		t.Outputs = append(t.Outputs, out)
	}

	if err := binary.Read(r, binary.LittleEndian, &t.LockTime); err != nil {
		return nil, fmt.Errorf("%w: lock time: %w", ErrMalformedTransaction, err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedTransaction, r.Len())
	}
	return t, nil
}

// FromEFHex decodes a hex-encoded extended-format transaction.
func FromEFHex(s string) (*Transaction, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedTransaction, err)
	}
	return FromEFBytes(b)
}

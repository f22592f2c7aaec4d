// Package tx implements the transaction wire codecs: the raw format, the
// extended format carrying source outputs for nodeless fee checking, and
// the ancestry envelope bundling a transaction with its unconfirmed
// ancestors and their Merkle paths.
package tx

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	sdkscript "github.com/bsv-blockchain/go-sdk/script"
	sdktx "github.com/bsv-blockchain/go-sdk/transaction"
)

// Input spends a previous output. SourceSatoshis and SourceLockingScript
// are populated for the extended format only.
type Input struct {
	SourceTxID      []byte // 32 bytes, internal byte order
	SourceTxOut     uint32
	UnlockingScript []byte
	Sequence        uint32

	SourceSatoshis      *uint64
	SourceLockingScript []byte
}

// SourceTxIDHex returns the previous txid in display order.
func (in *Input) SourceTxIDHex() string {
	return hex.EncodeToString(reverse(in.SourceTxID))
}

// Output locks an amount behind a script.
type Output struct {
	Satoshis      uint64
	LockingScript []byte
}

// Transaction is an ordered list of inputs and outputs with a version and
// lock time. Identity is the double-hash of the raw serialization.
type Transaction struct {
	Version  uint32
	Inputs   []*Input
	Outputs  []*Output
	LockTime uint32
}

// NewTransaction returns an empty transaction with the default version.
func NewTransaction() *Transaction {
	return &Transaction{Version: 1}
}

// AddInput appends in and returns the transaction for chaining.
func (t *Transaction) AddInput(in *Input) *Transaction {
	t.Inputs = append(t.Inputs, in)
	return t
}

// AddOutput appends out and returns the transaction for chaining.
func (t *Transaction) AddOutput(out *Output) *Transaction {
	t.Outputs = append(t.Outputs, out)
	return t
}

// sdk converts to the go-sdk representation the raw codec delegates to.
func (t *Transaction) sdk() *sdktx.Transaction {
	stx := &sdktx.Transaction{Version: t.Version, LockTime: t.LockTime}
	for _, in := range t.Inputs {
		var prev chainhash.Hash
		copy(prev[:], in.SourceTxID)
		stx.Inputs = append(stx.Inputs, &sdktx.TransactionInput{
			SourceTXID:       &prev,
			SourceTxOutIndex: in.SourceTxOut,
			UnlockingScript:  sdkscript.NewFromBytes(in.UnlockingScript),
			SequenceNumber:   in.Sequence,
		})
	}
	for _, out := range t.Outputs {
		stx.Outputs = append(stx.Outputs, &sdktx.TransactionOutput{
			Satoshis:      out.Satoshis,
			LockingScript: sdkscript.NewFromBytes(out.LockingScript),
		})
	}
	return stx
}

func fromSDK(stx *sdktx.Transaction) *Transaction {
	t := &Transaction{Version: stx.Version, LockTime: stx.LockTime}
	for _, in := range stx.Inputs {
		decoded := &Input{
			SourceTxOut: in.SourceTxOutIndex,
			Sequence:    in.SequenceNumber,
		}
		if in.SourceTXID != nil {
			decoded.SourceTxID = in.SourceTXID.CloneBytes()
		}
		if in.UnlockingScript != nil {
			decoded.UnlockingScript = []byte(*in.UnlockingScript)
		}
		t.Inputs = append(t.Inputs, decoded)
	}
	for _, out := range stx.Outputs {
		decoded := &Output{Satoshis: out.Satoshis}
		if out.LockingScript != nil {
			decoded.LockingScript = []byte(*out.LockingScript)
		}
		t.Outputs = append(t.Outputs, decoded)
	}
	return t
}

// Bytes serializes the transaction in raw wire format.
func (t *Transaction) Bytes() []byte { return t.sdk().Bytes() }

// Hex returns the hex encoding of Bytes.
func (t *Transaction) Hex() string { return hex.EncodeToString(t.Bytes()) }

// Size returns the raw serialized length in bytes.
func (t *Transaction) Size() int { return t.sdk().Size() }

// TxID returns the double-hash of the raw serialization in internal byte
// order.
func (t *Transaction) TxID() []byte { return t.sdk().TxID().CloneBytes() }

// TxIDHex returns the txid in display order.
func (t *Transaction) TxIDHex() string { return t.sdk().TxID().String() }

// FromBytes decodes a raw transaction. Truncated or over-length payloads
// fail with ErrMalformedTransaction.
func FromBytes(b []byte) (*Transaction, error) {
	stx, err := sdktx.NewTransactionFromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedTransaction, err)
	}
	return fromSDK(stx), nil
}

// FromHex decodes a hex-encoded raw transaction.
func FromHex(s string) (*Transaction, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedTransaction, err)
	}
	return FromBytes(b)
}

// TotalOutputSatoshis returns the sum of all output amounts.
func (t *Transaction) TotalOutputSatoshis() uint64 {
	var total uint64
	for _, out := range t.Outputs {
		total += out.Satoshis
	}
	return total
}

// TotalInputSatoshis returns the sum of source amounts, which requires
// extended-format inputs.
func (t *Transaction) TotalInputSatoshis() (uint64, error) {
	var total uint64
	for i, in := range t.Inputs {
		if in.SourceSatoshis == nil {
			return 0, fmt.Errorf("%w: input %d", ErrMissingSourceOutput, i)
		}
		total += *in.SourceSatoshis
	}
	return total, nil
}

func writeInput(buf *bytes.Buffer, in *Input, extended bool) {
	buf.Write(in.SourceTxID)
	binary.Write(buf, binary.LittleEndian, in.SourceTxOut)
	writeVarInt(buf, uint64(len(in.UnlockingScript)))
	buf.Write(in.UnlockingScript)
	binary.Write(buf, binary.LittleEndian, in.Sequence)
	if extended {
		binary.Write(buf, binary.LittleEndian, *in.SourceSatoshis)
		writeVarInt(buf, uint64(len(in.SourceLockingScript)))
		buf.Write(in.SourceLockingScript)
	}
}

func writeOutput(buf *bytes.Buffer, out *Output) {
	binary.Write(buf, binary.LittleEndian, out.Satoshis)
	writeVarInt(buf, uint64(len(out.LockingScript)))
	buf.Write(out.LockingScript)
}

// readTransaction decodes one transaction from r, leaving trailing bytes
// unread. The envelope codec concatenates several transactions, so the
// over-length check belongs to the callers that expect exactly one.
func readTransaction(r *bytes.Reader, extended bool) (*Transaction, error) {
	t := &Transaction{}
	if err := binary.Read(r, binary.LittleEndian, &t.Version); err != nil {
		return nil, fmt.Errorf("%w: version: %w", ErrMalformedTransaction, err)
	}

	inputCount, err := readVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("%w: input count: %w", ErrMalformedTransaction, err)
	}
	if inputCount > uint64(r.Len()) {
		return nil, fmt.Errorf("%w: input count %d exceeds payload", ErrMalformedTransaction, inputCount)
	}
	for i := uint64(0); i < inputCount; i++ {
		in, err := readInput(r, extended)
		if err != nil {
			return nil, fmt.Errorf("%w: input %d: %w", ErrMalformedTransaction, i, err)
		}
		t.Inputs = append(t.Inputs, in)
	}

	outputCount, err := readVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("%w: output count: %w", ErrMalformedTransaction, err)
	}
	if outputCount > uint64(r.Len()) {
		return nil, fmt.Errorf("%w: output count %d exceeds payload", ErrMalformedTransaction, outputCount)
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
	return t, nil
}

func readInput(r *bytes.Reader, extended bool) (*Input, error) {
	in := &Input{SourceTxID: make([]byte, 32)}
	if _, err := io.ReadFull(r, in.SourceTxID); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &in.SourceTxOut); err != nil {
		return nil, err
	}
	script, err := readVarBytes(r)
	if err != nil {
		return nil, err
	}
	in.UnlockingScript = script
	if err := binary.Read(r, binary.LittleEndian, &in.Sequence); err != nil {
		return nil, err
	}
	if extended {
		var satoshis uint64
		if err := binary.Read(r, binary.LittleEndian, &satoshis); err != nil {
			return nil, err
		}
		in.SourceSatoshis = &satoshis
		if in.SourceLockingScript, err = readVarBytes(r); err != nil {
			return nil, err
		}
	}
	return in, nil
}

func readOutput(r *bytes.Reader) (*Output, error) {
	out := &Output{}
	if err := binary.Read(r, binary.LittleEndian, &out.Satoshis); err != nil {
		return nil, err
	}
	script, err := readVarBytes(r)
	if err != nil {
		return nil, err
	}
	out.LockingScript = script
	return out, nil
}

func readVarBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readVarInt(r)
	if err != nil {
		return nil, err
	}
	if n > uint64(r.Len()) {
		return nil, fmt.Errorf("length %d exceeds remaining %d bytes", n, r.Len())
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

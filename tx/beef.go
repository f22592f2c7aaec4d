package tx

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/openspv/spv-engine-go/spv"
)

// BEEFVersion is the envelope version marker; its little-endian bytes
// spell 0100beef on the wire.
const BEEFVersion uint32 = 4022206465

// EnvelopeTx is one transaction inside an ancestry envelope. PathIndex
// points into the envelope's Merkle paths for mined transactions and is
// nil for unmined ones.
type EnvelopeTx struct {
	Tx        *Transaction
	PathIndex *int
}

// Envelope bundles a target transaction with the raw bytes of every
// unconfirmed ancestor plus one compact Merkle path per mined ancestor,
// deduplicated by txid. Transactions are held in topological order with
// the target last, so a recipient can verify the whole dependency chain
// offline.
type Envelope struct {
	Paths        []*spv.MerklePath
	Transactions []*EnvelopeTx
}

// NewEnvelope returns an empty ancestry envelope.
func NewEnvelope() *Envelope {
	return &Envelope{}
}

// AddTransaction adds t with an optional Merkle path. Transactions are
// coalesced by txid: adding an already-present txid is a no-op except
// that a path now supplied is attached to the existing entry. Paths are
// deduplicated by their serialized bytes.
func (e *Envelope) AddTransaction(t *Transaction, path *spv.MerklePath) {
	if t == nil {
		return
	}
	txid := t.TxIDHex()
	var entry *EnvelopeTx
	for _, existing := range e.Transactions {
		if existing.Tx.TxIDHex() == txid {
			entry = existing
			break
		}
	}
	if entry == nil {
		entry = &EnvelopeTx{Tx: t}
		e.Transactions = append(e.Transactions, entry)
	}
	if path != nil && entry.PathIndex == nil {
		idx := e.addPath(path)
		entry.PathIndex = &idx
	}
}

func (e *Envelope) addPath(path *spv.MerklePath) int {
	encoded := path.Bytes()
	for i, existing := range e.Paths {
		if bytes.Equal(existing.Bytes(), encoded) {
			return i
		}
	}
	e.Paths = append(e.Paths, path)
	return len(e.Paths) - 1
}

// Target returns the subject transaction: the last one in topological
// order.
func (e *Envelope) Target() *Transaction {
	if len(e.Transactions) == 0 {
		return nil
	}
	return e.Transactions[len(e.Transactions)-1].Tx
}

// Bytes serializes the envelope, ordering transactions so every parent
// precedes its spenders.
func (e *Envelope) Bytes() ([]byte, error) {
	ordered, err := e.topologicalOrder()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, BEEFVersion)
	writeVarInt(&buf, uint64(len(e.Paths)))
	for _, path := range e.Paths {
		buf.Write(path.Bytes())
	}
	writeVarInt(&buf, uint64(len(ordered)))
	for _, entry := range ordered {
		buf.Write(entry.Tx.Bytes())
		if entry.PathIndex != nil {
			buf.WriteByte(0x01)
			writeVarInt(&buf, uint64(*entry.PathIndex))
		} else {
			buf.WriteByte(0x00)
		}
	}
	return buf.Bytes(), nil
}

// Hex returns the hex encoding of Bytes.
func (e *Envelope) Hex() (string, error) {
	b, err := e.Bytes()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// topologicalOrder sorts transactions parents-first, keeping insertion
// order among independent transactions stable.
func (e *Envelope) topologicalOrder() ([]*EnvelopeTx, error) {
	inSet := make(map[string]*EnvelopeTx, len(e.Transactions))
	for _, entry := range e.Transactions {
		inSet[entry.Tx.TxIDHex()] = entry
	}

	ordered := make([]*EnvelopeTx, 0, len(e.Transactions))
	placed := make(map[string]bool, len(e.Transactions))
	visiting := make(map[string]bool)

	var place func(entry *EnvelopeTx) error
	place = func(entry *EnvelopeTx) error {
		txid := entry.Tx.TxIDHex()
		if placed[txid] {
			return nil
		}
		if visiting[txid] {
			return fmt.Errorf("%w: dependency cycle at %s", ErrMalformedEnvelope, txid)
		}
		visiting[txid] = true
		for _, in := range entry.Tx.Inputs {
			if parent, ok := inSet[in.SourceTxIDHex()]; ok {
				if err := place(parent); err != nil {
					return err
				}
			}
		}
		visiting[txid] = false
		placed[txid] = true
		ordered = append(ordered, entry)
		return nil
	}

	for _, entry := range e.Transactions {
		if err := place(entry); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// IsBEEF reports whether b starts with the envelope version marker.
func IsBEEF(b []byte) bool {
	return len(b) >= 4 && binary.LittleEndian.Uint32(b[:4]) == BEEFVersion
}

// FromBEEFBytes decodes an ancestry envelope. Unknown path references
// and trailing bytes fail with ErrMalformedEnvelope.
func FromBEEFBytes(b []byte) (*Envelope, error) {
	r := bytes.NewReader(b)

	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: version: %w", ErrMalformedEnvelope, err)
	}
	if version != BEEFVersion {
		return nil, fmt.Errorf("%w: unexpected version 0x%08x", ErrMalformedEnvelope, version)
	}

	e := NewEnvelope()

	pathCount, err := readVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("%w: path count: %w", ErrMalformedEnvelope, err)
	}
	for i := uint64(0); i < pathCount; i++ {
		path, err := spv.ReadMerklePath(r)
		if err != nil {
			return nil, fmt.Errorf("%w: path %d: %w", ErrMalformedEnvelope, i, err)
		}
		e.Paths = append(e.Paths, path)
	}

	txCount, err := readVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("%w: transaction count: %w", ErrMalformedEnvelope, err)
	}
	for i := uint64(0); i < txCount; i++ {
		t, err := readTransaction(r, false)
		if err != nil {
			return nil, fmt.Errorf("%w: transaction %d: %w", ErrMalformedEnvelope, i, err)
		}
		entry := &EnvelopeTx{Tx: t}
		flag, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: transaction %d flag: %w", ErrMalformedEnvelope, i, err)
		}
		switch flag {
		case 0x00:
		case 0x01:
			idx, err := readVarInt(r)
			if err != nil {
				return nil, fmt.Errorf("%w: transaction %d path index: %w", ErrMalformedEnvelope, i, err)
			}
			if idx >= uint64(len(e.Paths)) {
				return nil, fmt.Errorf("%w: path index %d out of range", ErrMalformedEnvelope, idx)
			}
			pathIdx := int(idx)
			entry.PathIndex = &pathIdx
		default:
			return nil, fmt.Errorf("%w: transaction %d flag 0x%02x", ErrMalformedEnvelope, i, flag)
		}
		e.Transactions = append(e.Transactions, entry)
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedEnvelope, r.Len())
	}
	return e, nil
}

// FromBEEFHex decodes a hex-encoded ancestry envelope.
func FromBEEFHex(s string) (*Envelope, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	return FromBEEFBytes(b)
}

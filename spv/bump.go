package spv

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
)

// Leaf flag bits in the compact path encoding.
const (
	flagDuplicate byte = 0x01
	flagTxid      byte = 0x02
)

// PathLeaf is one sibling descriptor in a tree level. A duplicate leaf
// carries no hash: the sibling is the current working hash (odd subtree).
type PathLeaf struct {
	Offset    uint64
	Hash      []byte // internal byte order, nil when Duplicate
	Duplicate bool
	Txid      bool // leaf is a transaction of interest
}

// MerklePath is a parsed compact Merkle path (block height plus one
// sibling level per tree level, leaves first).
type MerklePath struct {
	BlockHeight uint32
	Levels      [][]PathLeaf
}

// NewMerklePathFromBytes parses the compact binary encoding:
//
//	blockHeight  uint32 LE
//	treeHeight   1 byte
//	per level:   varint leafCount, then leafCount leaves of
//	             varint offset, 1 flag byte, 32-byte hash unless duplicate
func NewMerklePathFromBytes(b []byte) (*MerklePath, error) {
	r := bytes.NewReader(b)
	path, err := ReadMerklePath(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedPath, r.Len())
	}
	return path, nil
}

// NewMerklePathFromHex parses a hex-encoded compact path.
func NewMerklePathFromHex(s string) (*MerklePath, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPath, err)
	}
	return NewMerklePathFromBytes(b)
}

// ReadMerklePath parses one compact path from r, leaving any trailing
// bytes unread. The ancestry envelope codec concatenates several paths
// and reads them in sequence.
func ReadMerklePath(r *bytes.Reader) (*MerklePath, error) {
	var height uint32
	if err := binary.Read(r, binary.LittleEndian, &height); err != nil {
		return nil, fmt.Errorf("%w: block height: %w", ErrMalformedPath, err)
	}
	treeHeight, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: tree height: %w", ErrMalformedPath, err)
	}

	path := &MerklePath{
		BlockHeight: height,
		Levels:      make([][]PathLeaf, treeHeight),
	}
	for level := 0; level < int(treeHeight); level++ {
		count, err := readVarInt(r)
		if err != nil {
			return nil, fmt.Errorf("%w: level %d leaf count: %w", ErrMalformedPath, level, err)
		}
		leaves := make([]PathLeaf, 0, count)
		for i := uint64(0); i < count; i++ {
			offset, err := readVarInt(r)
			if err != nil {
				return nil, fmt.Errorf("%w: level %d offset: %w", ErrMalformedPath, level, err)
			}
			flags, err := r.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("%w: level %d flags: %w", ErrMalformedPath, level, err)
			}
			leaf := PathLeaf{
				Offset:    offset,
				Duplicate: flags&flagDuplicate != 0,
				Txid:      flags&flagTxid != 0,
			}
			if !leaf.Duplicate {
				leaf.Hash = make([]byte, 32)
				if _, err := io.ReadFull(r, leaf.Hash); err != nil {
					return nil, fmt.Errorf("%w: level %d hash: %w", ErrMalformedPath, level, err)
				}
			}
			leaves = append(leaves, leaf)
		}
		path.Levels[level] = leaves
	}
	return path, nil
}

// Bytes serializes the path back into its compact binary encoding.
// Leaves within each level are emitted in ascending offset order, so
// Bytes(NewMerklePathFromBytes(b)) reproduces canonical input b.
func (p *MerklePath) Bytes() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, p.BlockHeight)
	buf.WriteByte(byte(len(p.Levels)))
	for _, leaves := range p.Levels {
		sorted := append([]PathLeaf(nil), leaves...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })
		writeVarInt(&buf, uint64(len(sorted)))
		for _, leaf := range sorted {
			writeVarInt(&buf, leaf.Offset)
			var flags byte
			if leaf.Duplicate {
				flags |= flagDuplicate
			}
			if leaf.Txid {
				flags |= flagTxid
			}
			buf.WriteByte(flags)
			if !leaf.Duplicate {
				buf.Write(leaf.Hash)
			}
		}
	}
	return buf.Bytes()
}

// Hex returns the hex encoding of Bytes.
func (p *MerklePath) Hex() string { return hex.EncodeToString(p.Bytes()) }

// TxIDs returns the display-order hex txids the path proves inclusion for.
func (p *MerklePath) TxIDs() []string {
	if len(p.Levels) == 0 {
		return nil
	}
	var ids []string
	for _, leaf := range p.Levels[0] {
		if leaf.Txid && !leaf.Duplicate {
			ids = append(ids, hex.EncodeToString(ReverseBytes(leaf.Hash)))
		}
	}
	return ids
}

// ComputeRoot folds txHash (internal byte order) up the tree and returns
// the Merkle root in internal byte order. The transaction must appear in
// the path's leaf level.
func (p *MerklePath) ComputeRoot(txHash []byte) ([]byte, error) {
	if len(txHash) != 32 {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidTxID, len(txHash))
	}
	if len(p.Levels) == 0 {
		// Single-transaction block: the txid is the root.
		return append([]byte(nil), txHash...), nil
	}

	offset, ok := p.leafOffset(txHash)
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrTxidNotInPath, ReverseBytes(txHash))
	}

	working := append([]byte(nil), txHash...)
	for levelIdx, leaves := range p.Levels {
		siblingOffset := offset ^ 1
		sibling, ok := findLeaf(leaves, siblingOffset)
		if !ok {
			return nil, fmt.Errorf("%w: level %d offset %d", ErrMissingSibling, levelIdx, siblingOffset)
		}
		siblingHash := sibling.Hash
		if sibling.Duplicate {
			siblingHash = working
		}
		if offset%2 == 0 {
			working = combineHashes(working, siblingHash)
		} else {
			working = combineHashes(siblingHash, working)
		}
		offset >>= 1
	}
	return working, nil
}

// ComputeRootHex folds a display-order hex txid and returns the root in
// display order.
func (p *MerklePath) ComputeRootHex(txid string) (string, error) {
	hash, err := hex.DecodeString(txid)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidTxID, err)
	}
	root, err := p.ComputeRoot(ReverseBytes(hash))
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(ReverseBytes(root)), nil
}

func (p *MerklePath) leafOffset(txHash []byte) (uint64, bool) {
	for _, leaf := range p.Levels[0] {
		if !leaf.Duplicate && bytes.Equal(leaf.Hash, txHash) {
			return leaf.Offset, true
		}
	}
	return 0, false
}

func findLeaf(leaves []PathLeaf, offset uint64) (PathLeaf, bool) {
	for _, leaf := range leaves {
		if leaf.Offset == offset {
			return leaf, true
		}
	}
	return PathLeaf{}, false
}

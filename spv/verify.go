package spv

import (
	"context"
	"fmt"
)

// MerkleRootConfirmer checks a computed Merkle root against trusted block
// headers for a given height. The chain header-service client satisfies
// this interface.
type MerkleRootConfirmer interface {
	IsValidRootForHeight(ctx context.Context, merkleRoot string, blockHeight uint32) (bool, error)
}

// Verify recomputes the Merkle root for txid (display-order hex) from the
// path and checks it against trusted headers. A root the confirmer does
// not vouch for fails with ErrRootMismatch; any differing byte in the
// proof therefore fails verification.
func Verify(ctx context.Context, path *MerklePath, txid string, confirmer MerkleRootConfirmer) error {
	if path == nil {
		return fmt.Errorf("%w: merkle path", ErrNilParam)
	}
	if confirmer == nil {
		return fmt.Errorf("%w: root confirmer", ErrNilParam)
	}

	root, err := path.ComputeRootHex(txid)
	if err != nil {
		return err
	}
	ok, err := confirmer.IsValidRootForHeight(ctx, root, path.BlockHeight)
	if err != nil {
		return fmt.Errorf("spv: root confirmation: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: root %s at height %d", ErrRootMismatch, root, path.BlockHeight)
	}
	return nil
}

package engine

import (
	"sort"
	"time"

	"github.com/openspv/spv-engine-go/datastore"
	"github.com/openspv/spv-engine-go/tx"
)

// selection is the outcome of picking inputs for a draft.
type selection struct {
	utxos  []*datastore.UTXO
	fee    uint64
	change uint64
}

// selectUTXOs picks spendable outputs covering target plus the
// estimated fee. Candidates are grouped by size bucket, starting at
// the bucket matching the target so small payments do not consume
// large outputs, and within a bucket least-recently-touched outputs go
// first. Surplus above the dust limit becomes change; smaller surplus
// is absorbed into the fee.
func selectUTXOs(candidates []*datastore.UTXO, target uint64, feeUnit tx.FeeUnit, numOutputs int, now time.Time) (*selection, error) {
	buckets := make(map[int][]*datastore.UTXO)
	available := uint64(0)
	for _, u := range candidates {
		if !u.Spendable(now) {
			continue
		}
		buckets[u.Bucket] = append(buckets[u.Bucket], u)
		available += u.Satoshis
	}
	for _, group := range buckets {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].UpdatedAt.Before(group[j].UpdatedAt)
		})
	}

	var picked []*datastore.UTXO
	total := uint64(0)
	fee := uint64(0)
	for _, bucket := range bucketOrder(datastore.BucketFor(target)) {
		for _, u := range buckets[bucket] {
			picked = append(picked, u)
			total += u.Satoshis
			fee = feeUnit.FeeForSize(estimateDraftSize(picked, numOutputs))
			if total >= target+fee {
				change := total - target - fee
				if change <= tx.DustLimit {
					fee += change
					change = 0
				}
				return &selection{utxos: picked, fee: fee, change: change}, nil
			}
		}
	}

	return nil, &InsufficientFundsError{Needed: target + fee, Available: available}
}

// bucketOrder visits the target's own bucket first, then larger
// buckets, then smaller ones.
func bucketOrder(start int) []int {
	order := make([]int, 0, 5)
	for b := start; b <= 4; b++ {
		order = append(order, b)
	}
	for b := start - 1; b >= 0; b-- {
		order = append(order, b)
	}
	return order
}

// estimateDraftSize sizes the unsigned template: overhead plus the
// per-input estimates plus the requested outputs and one change output.
func estimateDraftSize(inputs []*datastore.UTXO, numOutputs int) uint64 {
	size := uint64(tx.TxOverheadSize)
	for _, u := range inputs {
		if u.EstimatedInputSize > 0 {
			size += u.EstimatedInputSize
		} else {
			size += tx.EstimatedInputSize
		}
	}
	size += uint64(numOutputs+1) * tx.EstimatedOutputSize
	return size
}

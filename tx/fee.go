package tx

// Size estimation constants for P2PKH transactions: per-input and
// per-output wire sizes plus the fixed version/locktime/count overhead.
const (
	EstimatedInputSize  = 148
	EstimatedOutputSize = 34
	TxOverheadSize      = 10

	// DustLimit is the minimum P2PKH output value in satoshis; change
	// below it is absorbed into the fee.
	DustLimit = uint64(546)
)

// FeeUnit expresses a fee rate as satoshis per byte span, e.g. 1/1000
// for one satoshi per kilobyte.
type FeeUnit struct {
	Satoshis uint64 `json:"satoshis" mapstructure:"satoshis"`
	Bytes    uint64 `json:"bytes" mapstructure:"bytes"`
}

// DefaultFeeUnit is one satoshi per kilobyte.
var DefaultFeeUnit = FeeUnit{Satoshis: 1, Bytes: 1000}

// FeeForSize returns the fee owed for sizeBytes, rounding up and never
// below one satoshi.
func (f FeeUnit) FeeForSize(sizeBytes uint64) uint64 {
	unit := f
	if unit.Bytes == 0 {
		unit = DefaultFeeUnit
	}
	fee := (sizeBytes*unit.Satoshis + unit.Bytes - 1) / unit.Bytes
	if fee == 0 {
		return 1
	}
	return fee
}

// EstimateSize predicts the serialized size of a signed P2PKH
// transaction with the given input and output counts.
func EstimateSize(numInputs, numOutputs int) uint64 {
	return uint64(TxOverheadSize + numInputs*EstimatedInputSize + numOutputs*EstimatedOutputSize)
}

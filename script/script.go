// Package script builds, parses, and classifies locking and unlocking
// scripts. Unknown scripts are carried as Custom with their raw bytes
// preserved.
package script

import (
	"bytes"
	"fmt"

	sdkscript "github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction/template/p2pkh"

	"github.com/openspv/spv-engine-go/keys"
)

// Script opcodes used by the builders and the tests.
const (
	OpFalse       = sdkscript.OpFALSE
	OpReturn      = sdkscript.OpRETURN
	OpDup         = sdkscript.OpDUP
	OpHash160     = sdkscript.OpHASH160
	OpEqualVerify = sdkscript.OpEQUALVERIFY
	OpCheckSig    = sdkscript.OpCHECKSIG

	OpPushData1 = sdkscript.OpPUSHDATA1
	OpPushData2 = sdkscript.OpPUSHDATA2
	OpPushData4 = sdkscript.OpPUSHDATA4
)

// Type classifies a script by structural pattern.
type Type string

const (
	TypeP2PKH    Type = "pubkeyhash"
	TypeP2PK     Type = "pubkey"
	TypeOpReturn Type = "nulldata"
	TypeCustom   Type = "custom"
)

// PubKeyHashLen is the length of a HASH160 digest.
const PubKeyHashLen = 20

// PushData returns the minimal push encoding for data.
func PushData(data []byte) ([]byte, error) {
	prefix, err := sdkscript.PushDataPrefix(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %d bytes", ErrDataTooLarge, len(data))
	}
	return append(prefix, data...), nil
}

// LockP2PKH builds the canonical P2PKH locking script for a 20-byte
// pubkey hash:
//
//	OP_DUP OP_HASH160 <pkh> OP_EQUALVERIFY OP_CHECKSIG
func LockP2PKH(pubKeyHash []byte) ([]byte, error) {
	if len(pubKeyHash) != PubKeyHashLen {
		return nil, fmt.Errorf("%w: pubkey hash length %d", ErrInvalidAddress, len(pubKeyHash))
	}
	addr, err := sdkscript.NewAddressFromPublicKeyHash(pubKeyHash, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	lock, err := p2pkh.Lock(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	return []byte(*lock), nil
}

// LockAddress builds a P2PKH locking script for an encoded address.
func LockAddress(address string) ([]byte, error) {
	pkh, err := keys.AddressPubKeyHash(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidAddress, address, err)
	}
	return LockP2PKH(pkh)
}

// UnlockP2PKH builds the unlocking script for a P2PKH input: a signature
// push followed by a public key push.
func UnlockP2PKH(sig, pubKey []byte) ([]byte, error) {
	if len(pubKey) != 33 && len(pubKey) != 65 {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidPubKey, len(pubKey))
	}
	s := &sdkscript.Script{}
	if err := s.AppendPushDataArray([][]byte{sig, pubKey}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDataTooLarge, err)
	}
	return []byte(*s), nil
}

// LockData builds a provably unspendable data-carrier script:
//
//	OP_FALSE OP_RETURN <push>...
func LockData(pushes ...[]byte) ([]byte, error) {
	s := &sdkscript.Script{sdkscript.OpFALSE, sdkscript.OpRETURN}
	for _, push := range pushes {
		if err := s.AppendPushData(push); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDataTooLarge, err)
		}
	}
	return []byte(*s), nil
}

// DataPushes extracts the data pushes following the OP_RETURN marker.
// Both the bare OP_RETURN form and the OP_FALSE OP_RETURN form decode,
// including markers with no payload at all.
func DataPushes(lockingScript []byte) ([][]byte, error) {
	if !sdkscript.NewFromBytes(lockingScript).IsData() {
		return nil, fmt.Errorf("%w: not a data-carrier script", ErrEmptyScript)
	}
	chunks, err := sdkscript.DecodeScript(lockingScript, sdkscript.DecodeOptionsParseOpReturn)
	if err != nil {
		return nil, fmt.Errorf("script: malformed push: %w", err)
	}

	var pushes [][]byte
	seenReturn := false
	for _, chunk := range chunks {
		if !seenReturn {
			seenReturn = chunk.Op == sdkscript.OpRETURN
			continue
		}
		switch {
		case chunk.Op == sdkscript.Op0:
			pushes = append(pushes, []byte{})
		case chunk.Op <= sdkscript.OpPUSHDATA4:
			pushes = append(pushes, chunk.Data)
		default:
			return nil, fmt.Errorf("script: unexpected opcode 0x%02x in data payload", chunk.Op)
		}
	}
	return pushes, nil
}

// DetectType classifies a locking script by exact structural match.
// Scripts matching no known template are Custom; callers must carry
// their bytes through unmodified.
func DetectType(lockingScript []byte) Type {
	s := sdkscript.NewFromBytes(lockingScript)
	switch {
	case s.IsP2PKH():
		return TypeP2PKH
	case s.IsP2PK():
		return TypeP2PK
	case s.IsData():
		return TypeOpReturn
	default:
		return TypeCustom
	}
}

// P2PKHAddress extracts the encoded address from a P2PKH locking script.
func P2PKHAddress(lockingScript []byte, testnet bool) (string, error) {
	s := sdkscript.NewFromBytes(lockingScript)
	if !s.IsP2PKH() {
		return "", fmt.Errorf("%w: not a pubkeyhash script", ErrInvalidAddress)
	}
	pkh, err := s.PublicKeyHash()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	return keys.AddressFromPubKeyHash(pkh, testnet), nil
}

// Equal reports whether two scripts are byte-identical.
func Equal(a, b []byte) bool { return bytes.Equal(a, b) }

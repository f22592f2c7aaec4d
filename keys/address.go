package keys

import (
	"bytes"
	"fmt"

	base58 "github.com/bsv-blockchain/go-sdk/compat/base58"
	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	bsvhash "github.com/bsv-blockchain/go-sdk/primitives/hash"
	"github.com/bsv-blockchain/go-sdk/script"
)

// Network version bytes for address and WIF encoding.
const (
	MainnetPubKeyHash byte = 0x00
	TestnetPubKeyHash byte = 0x6f
	mainnetWIF        byte = 0x80
	testnetWIF        byte = 0xef
)

// addressPayloadLen is version byte + hash160 + 4-byte checksum.
const addressPayloadLen = 25

// AddressFromPubKey encodes a P2PKH address from a compressed or
// uncompressed public key.
func AddressFromPubKey(pubKey []byte, testnet bool) string {
	return AddressFromPubKeyHash(bsvhash.Hash160(pubKey), testnet)
}

// AddressFromPubKeyHash encodes a P2PKH address from a 20-byte pubkey hash.
func AddressFromPubKeyHash(pubKeyHash []byte, testnet bool) string {
	addr, err := script.NewAddressFromPublicKeyHash(pubKeyHash, !testnet)
	if err != nil {
		return ""
	}
	return addr.AddressString
}

// AddressPubKeyHash extracts the 20-byte pubkey hash from a P2PKH address.
func AddressPubKeyHash(address string) ([]byte, error) {
	decoded, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	if len(decoded) != addressPayloadLen {
		return nil, fmt.Errorf("%w: payload length %d", ErrInvalidAddress, len(decoded))
	}
	if !bytes.Equal(bsvhash.Sha256d(decoded[:21])[:4], decoded[21:]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
	}
	addr, err := script.NewAddressFromString(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	return []byte(addr.PublicKeyHash), nil
}

// ValidateAddress reports whether s is a well-formed P2PKH address.
func ValidateAddress(s string) bool {
	_, err := AddressPubKeyHash(s)
	return err == nil
}

// EncodeWIF encodes a private key in Wallet Import Format with the
// compressed-pubkey marker.
func EncodeWIF(privKey *ec.PrivateKey, testnet bool) (string, error) {
	if privKey == nil {
		return "", fmt.Errorf("%w: nil private key", ErrInvalidWIF)
	}
	prefix := mainnetWIF
	if testnet {
		prefix = testnetWIF
	}
	return privKey.WifPrefix(prefix), nil
}

// DecodeWIF decodes a WIF string, returning the private key and whether
// the string carries the testnet prefix.
func DecodeWIF(wif string) (privKey *ec.PrivateKey, testnet bool, err error) {
	priv, err := ec.PrivateKeyFromWif(wif)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrInvalidWIF, err)
	}
	decoded, err := base58.Decode(wif)
	if err != nil || len(decoded) == 0 {
		return nil, false, fmt.Errorf("%w: %w", ErrInvalidWIF, err)
	}
	switch decoded[0] {
	case mainnetWIF:
	case testnetWIF:
		testnet = true
	default:
		return nil, false, fmt.Errorf("%w: version byte 0x%02x", ErrInvalidWIF, decoded[0])
	}
	return priv, testnet, nil
}

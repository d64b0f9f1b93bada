package models

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// PrinterAddress is the pseudo-contract whose smart queries are captured as stdout
const PrinterAddress = "supergodprinter"

// Bech32Encode encodes canonical address bytes with the given prefix
func Bech32Encode(prefix string, canonical []byte) (string, error) {
	conv, err := bech32.ConvertBits(canonical, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("failed to convert address bits: %w", err)
	}
	addr, err := bech32.Encode(prefix, conv)
	if err != nil {
		return "", fmt.Errorf("failed to encode address: %w", err)
	}
	return addr, nil
}

// Bech32Decode returns the prefix and canonical bytes of a bech32 address
func Bech32Decode(addr string) (string, []byte, error) {
	hrp, data, err := bech32.Decode(addr)
	if err != nil {
		return "", nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	canonical, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	return hrp, canonical, nil
}

// ValidateAddress checks that addr is a normalized bech32 address with the expected prefix
func ValidateAddress(prefix, addr string) error {
	if addr == "" {
		return fmt.Errorf("empty address")
	}
	if addr != strings.ToLower(addr) {
		return fmt.Errorf("address %q is not normalized", addr)
	}
	hrp, canonical, err := Bech32Decode(addr)
	if err != nil {
		return err
	}
	if hrp != prefix {
		return fmt.Errorf("address %q has prefix %q, expected %q", addr, hrp, prefix)
	}
	if len(canonical) == 0 {
		return fmt.Errorf("address %q has no data", addr)
	}
	return nil
}

// AccountAddress derives a deterministic account address from a seed string.
// Used for default senders and test fixtures.
func AccountAddress(prefix, seed string) string {
	sum := sha256.Sum256([]byte(seed))
	addr, err := Bech32Encode(prefix, sum[:20])
	if err != nil {
		panic(err)
	}
	return addr
}

// DefaultSender returns the account that signs top-level calls until a sender cheat is set
func DefaultSender(prefix string) string {
	return AccountAddress(prefix, "cwfork/base-eoa")
}

// ContractAddress derives the address of a contract created during simulation.
// The key is sha256(sha256("module") || "wasm\x00" || code_id || sequence || creator),
// so the same code instantiated twice by the same creator never collides.
func ContractAddress(prefix string, codeID, sequence uint64, creator string) (string, error) {
	typ := sha256.Sum256([]byte("module"))

	key := make([]byte, 0, 5+16+len(creator))
	key = append(key, "wasm\x00"...)
	key = binary.BigEndian.AppendUint64(key, codeID)
	key = binary.BigEndian.AppendUint64(key, sequence)
	key = append(key, creator...)

	h := sha256.New()
	h.Write(typ[:])
	h.Write(key)
	return Bech32Encode(prefix, h.Sum(nil))
}

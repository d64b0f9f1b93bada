package vm

import (
	"crypto/ed25519"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Result codes of the crypto imports
const (
	cryptoValid            uint32 = 0
	cryptoInvalid          uint32 = 1
	cryptoInvalidHash      uint32 = 3
	cryptoInvalidSignature uint32 = 4
	cryptoInvalidPubkey    uint32 = 5
	cryptoBatchMismatch    uint32 = 7
	cryptoGeneric          uint32 = 10
)

func secp256k1Verify(hash, sig, pubkey []byte) uint32 {
	if len(hash) != 32 {
		return cryptoInvalidHash
	}
	if len(sig) != 64 {
		return cryptoInvalidSignature
	}
	pk, err := secp256k1.ParsePubKey(pubkey)
	if err != nil {
		return cryptoInvalidPubkey
	}

	var r, s secp256k1.ModNScalar
	if overflow := r.SetByteSlice(sig[:32]); overflow || r.IsZero() {
		return cryptoInvalidSignature
	}
	if overflow := s.SetByteSlice(sig[32:]); overflow || s.IsZero() {
		return cryptoInvalidSignature
	}

	if ecdsa.NewSignature(&r, &s).Verify(hash, pk) {
		return cryptoValid
	}
	return cryptoInvalid
}

// secp256k1Recover returns the uncompressed public key, or a non-zero code
func secp256k1Recover(hash, sig []byte, recoveryParam uint32) ([]byte, uint32) {
	if len(hash) != 32 {
		return nil, cryptoInvalidHash
	}
	if len(sig) != 64 || recoveryParam > 1 {
		return nil, cryptoInvalidSignature
	}

	compact := make([]byte, 65)
	compact[0] = 27 + byte(recoveryParam)
	copy(compact[1:], sig)

	pk, _, err := ecdsa.RecoverCompact(compact, hash)
	if err != nil {
		return nil, cryptoGeneric
	}
	return pk.SerializeUncompressed(), cryptoValid
}

func ed25519Verify(msg, sig, pubkey []byte) uint32 {
	if len(sig) != ed25519.SignatureSize {
		return cryptoInvalidSignature
	}
	if len(pubkey) != ed25519.PublicKeySize {
		return cryptoInvalidPubkey
	}
	if ed25519.Verify(ed25519.PublicKey(pubkey), msg, sig) {
		return cryptoValid
	}
	return cryptoInvalid
}

// ed25519BatchVerify checks every (msg, sig, pubkey) triple.
// A single message or a single key is paired with every signature.
func ed25519BatchVerify(msgs, sigs, pubkeys [][]byte) uint32 {
	n := len(sigs)
	if len(msgs) == 1 && n > 1 {
		msgs = repeat(msgs[0], n)
	}
	if len(pubkeys) == 1 && n > 1 {
		pubkeys = repeat(pubkeys[0], n)
	}
	if len(msgs) != n || len(pubkeys) != n {
		return cryptoBatchMismatch
	}

	for i := 0; i < n; i++ {
		if code := ed25519Verify(msgs[i], sigs[i], pubkeys[i]); code != cryptoValid {
			return code
		}
	}
	return cryptoValid
}

func repeat(b []byte, n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

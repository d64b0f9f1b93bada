package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ContractRecord is a contract as seen by the sandbox.
// Records fetched from the remote chain are shared and must be treated as read-only.
type ContractRecord struct {
	Address string `json:"address"`
	CodeID  uint64 `json:"code_id"`
	Creator string `json:"creator,omitempty"`
	Admin   string `json:"admin,omitempty"`
	Label   string `json:"label,omitempty"`

	// Code is the raw (uncompressed) wasm binary
	Code []byte `json:"-"`

	// Storage is the remote storage snapshot at the pinned height.
	// Nil for contracts created during the session.
	Storage map[string][]byte `json:"-"`

	// Local is set for contracts instantiated during the session
	Local bool `json:"local"`
}

// CodeHash returns the hex sha256 of the contract code
func (c *ContractRecord) CodeHash() string {
	sum := sha256.Sum256(c.Code)
	return hex.EncodeToString(sum[:])
}

// BlockHeader is the subset of a block header the sandbox needs
type BlockHeader struct {
	ChainID string    `json:"chain_id"`
	Height  uint64    `json:"height"`
	Time    time.Time `json:"time"`
}

// KV is a single storage entry
type KV struct {
	Key   []byte
	Value []byte
}

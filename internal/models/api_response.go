package models

import (
	"encoding/json"
	"time"
)

// SessionResponse describes the fork a server session runs against
type SessionResponse struct {
	SessionID string    `json:"session_id"`
	ChainID   string    `json:"chain_id"`
	Height    uint64    `json:"height"`
	BlockTime time.Time `json:"block_time"`
	Sender    string    `json:"sender"`
	Prefix    string    `json:"prefix"`
}

// ContractResponse describes the code bound to an address
type ContractResponse struct {
	Address  string `json:"address"`
	CodeID   uint64 `json:"code_id"`
	CodeHash string `json:"code_hash"`
	CodeSize int    `json:"code_size"`
	Local    bool   `json:"local"`
}

// BalanceResponseBody is returned by the balance endpoint
type BalanceResponseBody struct {
	Address string `json:"address"`
	Coin    Coin   `json:"coin"`
}

// QueryResponseBody wraps raw query bytes; JSON payloads are inlined
type QueryResponseBody struct {
	Data json.RawMessage `json:"data,omitempty"`
	Raw  []byte          `json:"raw,omitempty"`
}

// SimulationListResponse is a page of archived simulations
type SimulationListResponse struct {
	Simulations []*SimulationRecord `json:"simulations"`
	Total       int                 `json:"total"`
	Limit       int                 `json:"limit"`
	Offset      int                 `json:"offset"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

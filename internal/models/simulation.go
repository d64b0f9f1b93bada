package models

import "time"

// SimulationRecord is an archived top-level call result
type SimulationRecord struct {
	SessionID string    `json:"session_id"`
	Seq       uint64    `json:"seq"`
	Kind      string    `json:"kind"`
	Target    string    `json:"target"`
	Height    uint64    `json:"height"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Events    []string  `json:"events"`
	Stdout    string    `json:"stdout,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

//---------- Env ---------

// Env is the execution environment passed to every entry point
type Env struct {
	Block       BlockInfo        `json:"block"`
	Transaction *TransactionInfo `json:"transaction"`
	Contract    ContractInfo     `json:"contract"`
}

// BlockInfo is the block a call executes in
type BlockInfo struct {
	Height uint64 `json:"height"`
	// time in nanoseconds since unix epoch
	Time    Uint64 `json:"time"`
	ChainID string `json:"chain_id"`
}

type TransactionInfo struct {
	Index uint32 `json:"index"`
}

type ContractInfo struct {
	Address string `json:"address"`
}

// MessageInfo carries the sender and the funds attached to a message
type MessageInfo struct {
	Sender string `json:"sender"`
	Funds  Coins  `json:"funds"`
}

// Uint64 is a uint64 encoded as a JSON string, as CosmWasm Timestamp and Uint64 are
type Uint64 uint64

func (u Uint64) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(u), 10))
}

func (u *Uint64) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n uint64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("cannot unmarshal %s into Uint64", string(data))
		}
		*u = Uint64(n)
		return nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("cannot parse %q as Uint64: %w", s, err)
	}
	*u = Uint64(n)
	return nil
}

//---------- Results ---------

// Response is the successful result of instantiate, execute and reply
type Response struct {
	Messages   []SubMsg    `json:"messages"`
	Attributes []Attribute `json:"attributes"`
	Events     []Event     `json:"events"`
	Data       []byte      `json:"data,omitempty"`
}

// ContractResult is either {"ok": Response} or {"error": "..."}
type ContractResult struct {
	Ok  *Response `json:"ok,omitempty"`
	Err *string   `json:"error,omitempty"`
}

// QueryResult is either {"ok": base64} or {"error": "..."}
type QueryResult struct {
	Ok  json.RawMessage `json:"ok,omitempty"`
	Err *string         `json:"error,omitempty"`
}

// Data decodes the base64 payload of a successful query
func (q *QueryResult) Data() ([]byte, error) {
	var out []byte
	if len(q.Ok) == 0 {
		return nil, fmt.Errorf("query result has neither ok nor error")
	}
	if err := json.Unmarshal(q.Ok, &out); err != nil {
		return nil, fmt.Errorf("failed to decode query result: %w", err)
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

// OkResult encodes {"ok": resp}
func OkResult(resp Response) []byte {
	b, _ := json.Marshal(ContractResult{Ok: &resp})
	return b
}

// ErrResult encodes {"error": msg}
func ErrResult(msg string) []byte {
	b, _ := json.Marshal(ContractResult{Err: &msg})
	return b
}

// OkQuery encodes {"ok": base64(data)}
func OkQuery(data []byte) []byte {
	if data == nil {
		data = []byte{}
	}
	raw, _ := json.Marshal(data)
	b, _ := json.Marshal(QueryResult{Ok: raw})
	return b
}

//---------- Messages ---------

// ReplyOn selects when the emitting contract gets a reply for a sub-message
type ReplyOn string

const (
	ReplyAlways  ReplyOn = "always"
	ReplySuccess ReplyOn = "success"
	ReplyError   ReplyOn = "error"
	ReplyNever   ReplyOn = "never"
)

// OnSuccess reports whether a successful sub-message triggers a reply
func (r ReplyOn) OnSuccess() bool { return r == ReplyAlways || r == ReplySuccess }

// OnError reports whether a failed sub-message triggers a reply
func (r ReplyOn) OnError() bool { return r == ReplyAlways || r == ReplyError }

// SubMsg is a message emitted by a contract, dispatched within the same call
type SubMsg struct {
	ID       uint64    `json:"id"`
	Msg      CosmosMsg `json:"msg"`
	GasLimit *uint64   `json:"gas_limit,omitempty"`
	ReplyOn  ReplyOn   `json:"reply_on"`
}

// CosmosMsg is the tagged union of messages a contract can emit.
// Only bank and wasm are executed; other variants are kept raw so they can be reported.
type CosmosMsg struct {
	Bank         *BankMsg        `json:"bank,omitempty"`
	Wasm         *WasmMsg        `json:"wasm,omitempty"`
	Custom       json.RawMessage `json:"custom,omitempty"`
	Staking      json.RawMessage `json:"staking,omitempty"`
	Distribution json.RawMessage `json:"distribution,omitempty"`
	Stargate     json.RawMessage `json:"stargate,omitempty"`
	Any          json.RawMessage `json:"any,omitempty"`
	IBC          json.RawMessage `json:"ibc,omitempty"`
	Gov          json.RawMessage `json:"gov,omitempty"`
}

// Kind names the variant, e.g. "wasm.execute" or "bank.send"
func (m CosmosMsg) Kind() string {
	switch {
	case m.Bank != nil && m.Bank.Send != nil:
		return "bank.send"
	case m.Bank != nil && m.Bank.Burn != nil:
		return "bank.burn"
	case m.Wasm != nil && m.Wasm.Execute != nil:
		return "wasm.execute"
	case m.Wasm != nil && m.Wasm.Instantiate != nil:
		return "wasm.instantiate"
	case m.Wasm != nil:
		return "wasm"
	case m.Bank != nil:
		return "bank"
	}
	raw := map[string]json.RawMessage{
		"custom": m.Custom, "staking": m.Staking, "distribution": m.Distribution,
		"stargate": m.Stargate, "any": m.Any, "ibc": m.IBC, "gov": m.Gov,
	}
	kinds := make([]string, 0, 1)
	for k, v := range raw {
		if len(v) > 0 {
			kinds = append(kinds, k)
		}
	}
	sort.Strings(kinds)
	if len(kinds) == 0 {
		return "empty"
	}
	return kinds[0]
}

type BankMsg struct {
	Send *SendMsg `json:"send,omitempty"`
	Burn *BurnMsg `json:"burn,omitempty"`
}

type SendMsg struct {
	ToAddress string `json:"to_address"`
	Amount    Coins  `json:"amount"`
}

type BurnMsg struct {
	Amount Coins `json:"amount"`
}

type WasmMsg struct {
	Execute     *ExecuteMsg     `json:"execute,omitempty"`
	Instantiate *InstantiateMsg `json:"instantiate,omitempty"`
}

// ExecuteMsg calls another contract. Msg is the raw JSON payload.
type ExecuteMsg struct {
	ContractAddr string `json:"contract_addr"`
	Msg          []byte `json:"msg"`
	Funds        Coins  `json:"funds"`
}

// InstantiateMsg creates a new contract from a code id
type InstantiateMsg struct {
	Admin  *string `json:"admin,omitempty"`
	CodeID uint64  `json:"code_id"`
	Msg    []byte  `json:"msg"`
	Funds  Coins   `json:"funds"`
	Label  string  `json:"label"`
}

//---------- Reply ---------

// Reply is passed to the reply entry point after a sub-message completes
type Reply struct {
	ID     uint64       `json:"id"`
	Result SubMsgResult `json:"result"`
}

type SubMsgResult struct {
	Ok  *SubMsgResponse `json:"ok,omitempty"`
	Err *string         `json:"error,omitempty"`
}

type SubMsgResponse struct {
	Events []Event `json:"events"`
	Data   []byte  `json:"data,omitempty"`
}

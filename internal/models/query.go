package models

import "encoding/json"

// QueryRequest is the tagged union a contract passes to query_chain
type QueryRequest struct {
	Bank     *BankQuery      `json:"bank,omitempty"`
	Wasm     *WasmQuery      `json:"wasm,omitempty"`
	Custom   json.RawMessage `json:"custom,omitempty"`
	Staking  json.RawMessage `json:"staking,omitempty"`
	Stargate json.RawMessage `json:"stargate,omitempty"`
	IBC      json.RawMessage `json:"ibc,omitempty"`
}

type BankQuery struct {
	Balance     *BalanceQuery     `json:"balance,omitempty"`
	AllBalances *AllBalancesQuery `json:"all_balances,omitempty"`
}

type BalanceQuery struct {
	Address string `json:"address"`
	Denom   string `json:"denom"`
}

type AllBalancesQuery struct {
	Address string `json:"address"`
}

type BalanceResponse struct {
	Amount Coin `json:"amount"`
}

type AllBalancesResponse struct {
	Amount Coins `json:"amount"`
}

type WasmQuery struct {
	Smart        *SmartQuery        `json:"smart,omitempty"`
	Raw          *RawQuery          `json:"raw,omitempty"`
	ContractInfo *ContractInfoQuery `json:"contract_info,omitempty"`
}

// SmartQuery calls the query entry point of a contract
type SmartQuery struct {
	ContractAddr string `json:"contract_addr"`
	Msg          []byte `json:"msg"`
}

// RawQuery reads one storage key of a contract
type RawQuery struct {
	ContractAddr string `json:"contract_addr"`
	Key          []byte `json:"key"`
}

type ContractInfoQuery struct {
	ContractAddr string `json:"contract_addr"`
}

type ContractInfoResponse struct {
	CodeID  uint64  `json:"code_id"`
	Creator string  `json:"creator"`
	Admin   *string `json:"admin,omitempty"`
	Pinned  bool    `json:"pinned"`
	IBCPort *string `json:"ibc_port,omitempty"`
}

// PrinterMsg is the smart query payload accepted by the printer pseudo-contract
type PrinterMsg struct {
	Msg string `json:"msg"`
}

// SystemResult is the envelope returned by query_chain.
// Ok holds a QueryResult, Err a SystemError.
type SystemResult struct {
	Ok  *QueryResult `json:"ok,omitempty"`
	Err *SystemError `json:"error,omitempty"`
}

type SystemError struct {
	InvalidRequest     *InvalidRequest     `json:"invalid_request,omitempty"`
	InvalidResponse    *InvalidResponse    `json:"invalid_response,omitempty"`
	NoSuchContract     *NoSuchContract     `json:"no_such_contract,omitempty"`
	NoSuchCode         *NoSuchCode         `json:"no_such_code,omitempty"`
	Unknown            *struct{}           `json:"unknown,omitempty"`
	UnsupportedRequest *UnsupportedRequest `json:"unsupported_request,omitempty"`
}

type InvalidRequest struct {
	Error   string `json:"error"`
	Request []byte `json:"request"`
}

type InvalidResponse struct {
	Error    string `json:"error"`
	Response []byte `json:"response"`
}

type NoSuchContract struct {
	Addr string `json:"addr"`
}

type NoSuchCode struct {
	CodeID uint64 `json:"code_id"`
}

type UnsupportedRequest struct {
	Kind string `json:"kind"`
}

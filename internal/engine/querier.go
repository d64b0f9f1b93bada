package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cwfork/internal/models"
	"cwfork/internal/remote"
	"cwfork/internal/trace"
	"cwfork/internal/vm"
)

// route answers req at depth. Failures of the queried contract are folded
// into the SystemResult; only fatal errors are returned.
func (x *execution) route(ctx context.Context, req models.QueryRequest, depth int) (*models.SystemResult, error) {
	switch {
	case req.Bank != nil:
		return x.bankQuery(ctx, req.Bank)
	case req.Wasm != nil:
		return x.wasmQuery(ctx, req.Wasm, depth)
	}
	return unsupported(requestKind(req)), nil
}

func (x *execution) bankQuery(ctx context.Context, q *models.BankQuery) (*models.SystemResult, error) {
	switch {
	case q.Balance != nil:
		amount, err := x.e.overlay.GetBalance(ctx, q.Balance.Address, q.Balance.Denom)
		if err != nil {
			return queryFailure(q.Balance.Address, err)
		}
		return okJSON(models.BalanceResponse{Amount: models.NewCoin(q.Balance.Denom, amount)})
	case q.AllBalances != nil:
		coins, err := x.e.overlay.AllBalances(ctx, q.AllBalances.Address)
		if err != nil {
			return queryFailure(q.AllBalances.Address, err)
		}
		return okJSON(models.AllBalancesResponse{Amount: coins.NonNil()})
	}
	return unsupported("bank"), nil
}

func (x *execution) wasmQuery(ctx context.Context, q *models.WasmQuery, depth int) (*models.SystemResult, error) {
	switch {
	case q.Smart != nil:
		data, err := x.smartQuery(ctx, q.Smart.ContractAddr, q.Smart.Msg, depth)
		if err != nil {
			return queryFailure(q.Smart.ContractAddr, err)
		}
		return okData(data), nil

	case q.Raw != nil:
		if _, err := x.e.overlay.GetCode(ctx, q.Raw.ContractAddr); err != nil {
			return queryFailure(q.Raw.ContractAddr, err)
		}
		value, _, err := x.e.overlay.GetStorage(ctx, q.Raw.ContractAddr, q.Raw.Key)
		if err != nil {
			return queryFailure(q.Raw.ContractAddr, err)
		}
		return okData(value), nil

	case q.ContractInfo != nil:
		rec, err := x.e.overlay.GetCode(ctx, q.ContractInfo.ContractAddr)
		if err != nil {
			return queryFailure(q.ContractInfo.ContractAddr, err)
		}
		info := models.ContractInfoResponse{CodeID: rec.CodeID, Creator: rec.Creator}
		if rec.Admin != "" {
			admin := rec.Admin
			info.Admin = &admin
		}
		return okJSON(info)
	}
	return unsupported("wasm"), nil
}

// smartQuery runs the query entry point of contract in a read-only instance
func (x *execution) smartQuery(ctx context.Context, contract string, msg []byte, depth int) ([]byte, error) {
	parent := x.trace.Begin(trace.Label(contract, "query", msg))
	defer x.trace.End(parent)

	data, err := x.doSmartQuery(ctx, contract, msg, depth)
	if err != nil {
		x.trace.Fail(err.Error())
	}
	return data, err
}

func (x *execution) doSmartQuery(ctx context.Context, contract string, msg []byte, depth int) ([]byte, error) {
	if depth > x.e.maxDepth {
		return nil, fmt.Errorf("%w: query depth %d exceeds limit %d", ErrDepthExceeded, depth, x.e.maxDepth)
	}
	if contract == models.PrinterAddress {
		return x.print(msg)
	}

	rec, err := x.e.overlay.GetCode(ctx, contract)
	if err != nil {
		return nil, err
	}
	inst, err := x.e.vm.Load(ctx, rec.Code, x.newHost(contract, depth, true))
	if err != nil {
		return nil, fmt.Errorf("failed to load contract %s: %w", contract, err)
	}
	defer inst.Close(ctx)

	env, err := json.Marshal(x.env(contract, false))
	if err != nil {
		return nil, fmt.Errorf("failed to encode env: %w", err)
	}
	raw, err := inst.Query(ctx, env, msg)
	x.captureCoverage(ctx, contract, inst)
	if err != nil {
		return nil, err
	}

	var result models.QueryResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: malformed query result: %v", vm.ErrTrap, err)
	}
	if result.Err != nil {
		return nil, contractError(*result.Err)
	}
	data, err := result.Data()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vm.ErrTrap, err)
	}
	return data, nil
}

// print captures a message sent to the printer pseudo-contract
func (x *execution) print(msg []byte) ([]byte, error) {
	var req models.PrinterMsg
	if err := json.Unmarshal(msg, &req); err != nil {
		return nil, fmt.Errorf("invalid printer message: %w", err)
	}
	x.stdout.WriteString(req.Msg)
	return []byte(`{"ack":true}`), nil
}

// queryFailure folds a non-fatal error into a SystemResult
func queryFailure(addr string, err error) (*models.SystemResult, error) {
	if isFatal(err) {
		return nil, err
	}
	if errors.Is(err, remote.ErrContractNotFound) {
		return &models.SystemResult{Err: &models.SystemError{
			NoSuchContract: &models.NoSuchContract{Addr: addr},
		}}, nil
	}
	msg := err.Error()
	return &models.SystemResult{Ok: &models.QueryResult{Err: &msg}}, nil
}

func okData(data []byte) *models.SystemResult {
	if data == nil {
		data = []byte{}
	}
	raw, _ := json.Marshal(data)
	return &models.SystemResult{Ok: &models.QueryResult{Ok: raw}}
}

func okJSON(v interface{}) (*models.SystemResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query response: %w", err)
	}
	return okData(b), nil
}

func unsupported(kind string) *models.SystemResult {
	return &models.SystemResult{Err: &models.SystemError{
		UnsupportedRequest: &models.UnsupportedRequest{Kind: kind},
	}}
}

func requestKind(req models.QueryRequest) string {
	switch {
	case len(req.Custom) > 0:
		return "custom"
	case len(req.Staking) > 0:
		return "staking"
	case len(req.Stargate) > 0:
		return "stargate"
	case len(req.IBC) > 0:
		return "ibc"
	}
	return "unknown"
}

// unwrapSystemResult returns the answer bytes of a SystemResult, or its
// failure as a CallError
func unwrapSystemResult(result *models.SystemResult) ([]byte, error) {
	if result.Err != nil {
		b, _ := json.Marshal(result.Err)
		kind := KindHostError
		if result.Err.NoSuchContract != nil {
			kind = KindContractNotFound
		}
		return nil, &CallError{Kind: kind, Err: fmt.Errorf("system error: %s", b)}
	}
	if result.Ok == nil {
		return nil, &CallError{Kind: KindHostError, Err: errors.New("empty query result")}
	}
	if result.Ok.Err != nil {
		return nil, contractError(*result.Ok.Err)
	}
	data, err := result.Ok.Data()
	if err != nil {
		return nil, &CallError{Kind: KindHostError, Err: err}
	}
	return data, nil
}

// Package vmtest runs contracts written in Go behind the vm interfaces,
// so the engine can be exercised without wasm binaries.
package vmtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cwfork/internal/models"
	"cwfork/internal/vm"
)

// Contract is a native contract. A nil entry point traps when called.
// Entry points return errors as contract errors, except errors wrapping
// vm.ErrTrap, which trap.
type Contract struct {
	Instantiate func(c *Ctx, msg []byte) (*models.Response, error)
	Execute     func(c *Ctx, msg []byte) (*models.Response, error)
	Query       func(c *Ctx, msg []byte) ([]byte, error)
	Reply       func(c *Ctx, reply models.Reply) (*models.Response, error)

	// Coverage is returned by every Coverage call when set
	Coverage []byte
}

// Ctx is what a native entry point sees
type Ctx struct {
	context.Context
	Env  models.Env
	Info models.MessageInfo

	host  vm.Host
	fatal error
}

// Trap aborts the entry point as a wasm panic would
func Trap(msg string) error {
	return fmt.Errorf("%w: abort: %s", vm.ErrTrap, msg)
}

func (c *Ctx) hostErr(err error) error {
	if err != nil && c.fatal == nil {
		c.fatal = err
	}
	return err
}

func (c *Ctx) Get(key []byte) ([]byte, bool, error) {
	v, ok, err := c.host.Get(c, key)
	return v, ok, c.hostErr(err)
}

func (c *Ctx) Set(key, value []byte) error {
	return c.hostErr(c.host.Set(c, key, value))
}

func (c *Ctx) Remove(key []byte) error {
	return c.hostErr(c.host.Remove(c, key))
}

func (c *Ctx) Scan(start, end []byte, order int32) ([]models.KV, error) {
	kvs, err := c.host.Scan(c, start, end, order)
	return kvs, c.hostErr(err)
}

func (c *Ctx) AddrValidate(addr string) error {
	return c.host.AddrValidate(addr)
}

func (c *Ctx) Debug(msg string) {
	c.host.Debug(msg)
}

// QueryRaw sends a QueryRequest and returns the decoded SystemResult
func (c *Ctx) QueryRaw(request models.QueryRequest) (*models.SystemResult, error) {
	raw, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}
	resp, err := c.host.QueryChain(c, raw)
	if err != nil {
		return nil, c.hostErr(err)
	}
	var result models.SystemResult
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to decode query_chain response: %w", err)
	}
	return &result, nil
}

// QuerySmart queries another contract and returns its answer bytes.
// System and contract errors both come back as plain errors.
func (c *Ctx) QuerySmart(contract string, msg []byte) ([]byte, error) {
	result, err := c.QueryRaw(models.QueryRequest{Wasm: &models.WasmQuery{
		Smart: &models.SmartQuery{ContractAddr: contract, Msg: msg},
	}})
	if err != nil {
		return nil, err
	}
	if result.Err != nil {
		b, _ := json.Marshal(result.Err)
		return nil, fmt.Errorf("system error: %s", b)
	}
	if result.Ok.Err != nil {
		return nil, errors.New(*result.Ok.Err)
	}
	return result.Ok.Data()
}

// VM serves registered native contracts. Code bytes select the contract.
type VM struct {
	mu        sync.Mutex
	contracts map[string]*Contract
	loads     int
}

var _ vm.VM = (*VM)(nil)

// New returns an empty registry
func New() *VM {
	return &VM{contracts: make(map[string]*Contract)}
}

// Register binds code to a contract and returns code for convenience
func (v *VM) Register(code string, contract *Contract) []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.contracts[code] = contract
	return []byte(code)
}

// Loads counts instances created so far
func (v *VM) Loads() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loads
}

func (v *VM) lookup(code []byte) (*Contract, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	contract, ok := v.contracts[string(code)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown native code %q", vm.ErrInvalidCode, string(code))
	}
	return contract, nil
}

func (v *VM) Validate(ctx context.Context, code []byte) error {
	_, err := v.lookup(code)
	return err
}

func (v *VM) Load(ctx context.Context, code []byte, host vm.Host) (vm.Instance, error) {
	contract, err := v.lookup(code)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.loads++
	v.mu.Unlock()
	return &instance{contract: contract, host: host}, nil
}

func (v *VM) Close(ctx context.Context) error { return nil }

type instance struct {
	contract *Contract
	host     vm.Host
}

func (i *instance) newCtx(ctx context.Context, env []byte, info []byte) (*Ctx, error) {
	c := &Ctx{Context: ctx, host: i.host}
	if err := json.Unmarshal(env, &c.Env); err != nil {
		return nil, fmt.Errorf("%w: bad env: %v", vm.ErrTrap, err)
	}
	if info != nil {
		if err := json.Unmarshal(info, &c.Info); err != nil {
			return nil, fmt.Errorf("%w: bad info: %v", vm.ErrTrap, err)
		}
	}
	return c, nil
}

// finish turns a native outcome into the bytes a wasm contract would return
func finish(c *Ctx, resp *models.Response, err error) ([]byte, error) {
	if c.fatal != nil {
		return nil, c.fatal
	}
	if err != nil {
		if errors.Is(err, vm.ErrTrap) {
			return nil, err
		}
		return models.ErrResult(err.Error()), nil
	}
	if resp == nil {
		resp = &models.Response{}
	}
	return models.OkResult(*resp), nil
}

func (i *instance) Instantiate(ctx context.Context, env, info, msg []byte) ([]byte, error) {
	if i.contract.Instantiate == nil {
		return nil, Trap("instantiate not implemented")
	}
	c, err := i.newCtx(ctx, env, info)
	if err != nil {
		return nil, err
	}
	resp, err := i.contract.Instantiate(c, msg)
	return finish(c, resp, err)
}

func (i *instance) Execute(ctx context.Context, env, info, msg []byte) ([]byte, error) {
	if i.contract.Execute == nil {
		return nil, Trap("execute not implemented")
	}
	c, err := i.newCtx(ctx, env, info)
	if err != nil {
		return nil, err
	}
	resp, err := i.contract.Execute(c, msg)
	return finish(c, resp, err)
}

func (i *instance) Query(ctx context.Context, env, msg []byte) ([]byte, error) {
	if i.contract.Query == nil {
		return nil, Trap("query not implemented")
	}
	c, err := i.newCtx(ctx, env, nil)
	if err != nil {
		return nil, err
	}
	data, err := i.contract.Query(c, msg)
	if c.fatal != nil {
		return nil, c.fatal
	}
	if err != nil {
		if errors.Is(err, vm.ErrTrap) {
			return nil, err
		}
		text := err.Error()
		b, _ := json.Marshal(models.QueryResult{Err: &text})
		return b, nil
	}
	return models.OkQuery(data), nil
}

func (i *instance) Reply(ctx context.Context, env, reply []byte) ([]byte, error) {
	if i.contract.Reply == nil {
		return nil, Trap("reply not implemented")
	}
	c, err := i.newCtx(ctx, env, nil)
	if err != nil {
		return nil, err
	}
	var r models.Reply
	if err := json.Unmarshal(reply, &r); err != nil {
		return nil, fmt.Errorf("%w: bad reply: %v", vm.ErrTrap, err)
	}
	resp, err := i.contract.Reply(c, r)
	return finish(c, resp, err)
}

func (i *instance) Coverage(ctx context.Context) ([]byte, error) {
	return i.contract.Coverage, nil
}

func (i *instance) Close(ctx context.Context) error { return nil }

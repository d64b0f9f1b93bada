// Package state holds the local, journaled view of a forked chain.
// Reads are served from the overlay first, then the remote source.
// Writes only ever touch the overlay.
package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"cwfork/internal/models"
	"cwfork/internal/remote"

	"github.com/holiman/uint256"
)

// Order is the iteration order of Range, using the CosmWasm encoding
type Order int32

const (
	Ascending  Order = 1
	Descending Order = 2
)

var (
	// ErrInsufficientFunds is matched by InsufficientFundsError
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrBalanceOverflow is returned when a credit would exceed the amount range
	ErrBalanceOverflow = errors.New("balance overflow")
)

// InsufficientFundsError describes a failed debit
type InsufficientFundsError struct {
	Owner   string
	Denom   string
	Balance *uint256.Int
	Amount  *uint256.Int
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient balance (owner: %s, balance: %s, amount: %s)",
		e.Owner, e.Balance.Dec(), e.Amount.Dec())
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// Remote is the read-only parent of an Overlay
type Remote interface {
	FetchContract(ctx context.Context, address string) (*models.ContractRecord, error)
	FetchCode(ctx context.Context, codeID uint64) ([]byte, error)
	FetchStorage(ctx context.Context, address string, key []byte) ([]byte, bool, error)
	ScanStorage(ctx context.Context, address string) ([]models.KV, error)
	FetchBalance(ctx context.Context, address, denom string) (*uint256.Int, error)
	FetchAllBalances(ctx context.Context, address string) (map[string]*uint256.Int, error)
}

type contractEntry struct {
	codeID  uint64
	code    []byte
	creator string
	admin   string
	label   string

	// local contracts never fall through to remote storage
	local bool
}

type slot struct {
	value   []byte
	deleted bool
}

// Overlay is the mutable state of a session. It is not safe for concurrent use.
type Overlay struct {
	remote Remote

	contracts map[string]*contractEntry
	storage   map[string]map[string]slot
	balances  map[string]map[string]*uint256.Int
	codes     map[uint64][]byte
	seq       uint64

	journal []journalEntry
}

// NewOverlay creates an empty overlay on top of remote
func NewOverlay(r Remote) *Overlay {
	return &Overlay{
		remote:    r,
		contracts: make(map[string]*contractEntry),
		storage:   make(map[string]map[string]slot),
		balances:  make(map[string]map[string]*uint256.Int),
		codes:     make(map[uint64][]byte),
	}
}

// GetCode resolves the contract bound to address: overlay first, then remote.
// The returned record carries no storage.
func (o *Overlay) GetCode(ctx context.Context, address string) (*models.ContractRecord, error) {
	if entry, ok := o.contracts[address]; ok {
		return &models.ContractRecord{
			Address: address,
			CodeID:  entry.codeID,
			Creator: entry.creator,
			Admin:   entry.admin,
			Label:   entry.label,
			Code:    entry.code,
			Local:   entry.local,
		}, nil
	}

	rec, err := o.remote.FetchContract(ctx, address)
	if err != nil {
		return nil, err
	}
	return &models.ContractRecord{
		Address: address,
		CodeID:  rec.CodeID,
		Creator: rec.Creator,
		Admin:   rec.Admin,
		Label:   rec.Label,
		Code:    rec.Code,
	}, nil
}

// Exists reports whether address holds a contract
func (o *Overlay) Exists(ctx context.Context, address string) (bool, error) {
	_, err := o.GetCode(ctx, address)
	if errors.Is(err, remote.ErrContractNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Code returns the bytecode registered under codeID: custom codes first, then remote
func (o *Overlay) Code(ctx context.Context, codeID uint64) ([]byte, error) {
	if code, ok := o.codes[codeID]; ok {
		return code, nil
	}
	return o.remote.FetchCode(ctx, codeID)
}

// AddCustomCode registers bytecode under codeID for the rest of the session
func (o *Overlay) AddCustomCode(codeID uint64, code []byte) {
	o.codes[codeID] = bytes.Clone(code)
}

// BindContract creates a local contract at address
func (o *Overlay) BindContract(address string, codeID uint64, code []byte, creator, admin, label string) {
	o.setContract(address, &contractEntry{
		codeID:  codeID,
		code:    code,
		creator: creator,
		admin:   admin,
		label:   label,
		local:   true,
	})
}

func (o *Overlay) setContract(address string, entry *contractEntry) {
	o.journal = append(o.journal, contractChange{address: address, prev: o.contracts[address]})
	o.contracts[address] = entry
}

// NextInstanceSeq returns the next instance sequence number, starting at 1
func (o *Overlay) NextInstanceSeq() uint64 {
	o.journal = append(o.journal, seqChange{prev: o.seq})
	o.seq++
	return o.seq
}

// GetStorage reads one storage key of a contract
func (o *Overlay) GetStorage(ctx context.Context, address string, key []byte) ([]byte, bool, error) {
	if s, ok := o.storage[address][string(key)]; ok {
		if s.deleted {
			return nil, false, nil
		}
		return s.value, true, nil
	}
	if o.isLocal(address) {
		return nil, false, nil
	}
	return o.remote.FetchStorage(ctx, address, key)
}

// PutStorage writes one storage key of a contract
func (o *Overlay) PutStorage(address string, key, value []byte) {
	o.writeSlot(address, string(key), slot{value: bytes.Clone(value)}, true)
}

// RemoveStorage deletes one storage key of a contract
func (o *Overlay) RemoveStorage(address string, key []byte) {
	o.writeSlot(address, string(key), slot{deleted: true}, true)
}

func (o *Overlay) writeSlot(address, key string, s slot, journaled bool) {
	slots, ok := o.storage[address]
	if !ok {
		slots = make(map[string]slot)
		o.storage[address] = slots
	}
	if journaled {
		prev, existed := slots[key]
		o.journal = append(o.journal, storageChange{address: address, key: key, prev: prev, existed: existed})
	}
	slots[key] = s
}

// Range returns the merged overlay and remote entries with start <= key < end.
// Nil bounds are open.
func (o *Overlay) Range(ctx context.Context, address string, start, end []byte, order Order) ([]models.KV, error) {
	merged := make(map[string][]byte)

	if !o.isLocal(address) {
		kvs, err := o.remote.ScanStorage(ctx, address)
		if err != nil {
			return nil, fmt.Errorf("failed to scan remote storage of %s: %w", address, err)
		}
		for _, kv := range kvs {
			merged[string(kv.Key)] = kv.Value
		}
	}
	for key, s := range o.storage[address] {
		if s.deleted {
			delete(merged, key)
			continue
		}
		merged[key] = s.value
	}

	out := make([]models.KV, 0, len(merged))
	for key, value := range merged {
		k := []byte(key)
		if start != nil && bytes.Compare(k, start) < 0 {
			continue
		}
		if end != nil && bytes.Compare(k, end) >= 0 {
			continue
		}
		out = append(out, models.KV{Key: k, Value: value})
	}

	sort.Slice(out, func(i, j int) bool {
		less := bytes.Compare(out[i].Key, out[j].Key) < 0
		if order == Descending {
			return !less
		}
		return less
	})
	return out, nil
}

func (o *Overlay) isLocal(address string) bool {
	entry, ok := o.contracts[address]
	return ok && entry.local
}

// GetBalance returns the balance of one denom, zero when absent
func (o *Overlay) GetBalance(ctx context.Context, address, denom string) (*uint256.Int, error) {
	if amount, ok := o.balances[address][denom]; ok {
		return new(uint256.Int).Set(amount), nil
	}
	if o.isLocal(address) {
		return new(uint256.Int), nil
	}
	amount, err := o.remote.FetchBalance(ctx, address, denom)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch balance of %s: %w", address, err)
	}
	return amount, nil
}

// AllBalances returns every non-zero balance of an address sorted by denom
func (o *Overlay) AllBalances(ctx context.Context, address string) (models.Coins, error) {
	all := make(map[string]*uint256.Int)
	if !o.isLocal(address) {
		remoteBalances, err := o.remote.FetchAllBalances(ctx, address)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch balances of %s: %w", address, err)
		}
		all = remoteBalances
	}
	for denom, amount := range o.balances[address] {
		all[denom] = amount
	}
	return models.CoinsFromMap(all), nil
}

// AdjustBalance credits delta to address, or debits it when negative is set.
// A debit larger than the balance fails with an InsufficientFundsError.
func (o *Overlay) AdjustBalance(ctx context.Context, address, denom string, delta *uint256.Int, negative bool) error {
	current, err := o.GetBalance(ctx, address, denom)
	if err != nil {
		return err
	}

	next := new(uint256.Int)
	if negative {
		if current.Lt(delta) {
			return &InsufficientFundsError{Owner: address, Denom: denom, Balance: current, Amount: new(uint256.Int).Set(delta)}
		}
		next.Sub(current, delta)
	} else {
		if _, overflow := next.AddOverflow(current, delta); overflow || next.BitLen() > 128 {
			return fmt.Errorf("%w: %s %s", ErrBalanceOverflow, address, denom)
		}
	}

	o.setBalance(address, denom, next, true)
	return nil
}

// Transfer moves coins from one address to another. It is all-or-nothing.
func (o *Overlay) Transfer(ctx context.Context, from, to string, coins models.Coins) error {
	if err := coins.Validate(); err != nil {
		return err
	}

	snap := o.Snapshot()
	for _, coin := range coins {
		amount, err := coin.AmountOf()
		if err != nil {
			o.RevertToSnapshot(snap)
			return err
		}
		if amount.IsZero() {
			continue
		}
		if err := o.AdjustBalance(ctx, from, coin.Denom, amount, true); err != nil {
			o.RevertToSnapshot(snap)
			return err
		}
		if err := o.AdjustBalance(ctx, to, coin.Denom, amount, false); err != nil {
			o.RevertToSnapshot(snap)
			return err
		}
	}
	return nil
}

// Burn removes coins from an address. It is all-or-nothing.
func (o *Overlay) Burn(ctx context.Context, from string, coins models.Coins) error {
	if err := coins.Validate(); err != nil {
		return err
	}

	snap := o.Snapshot()
	for _, coin := range coins {
		amount, err := coin.AmountOf()
		if err != nil {
			o.RevertToSnapshot(snap)
			return err
		}
		if err := o.AdjustBalance(ctx, from, coin.Denom, amount, true); err != nil {
			o.RevertToSnapshot(snap)
			return err
		}
	}
	return nil
}

func (o *Overlay) setBalance(address, denom string, amount *uint256.Int, journaled bool) {
	denoms, ok := o.balances[address]
	if !ok {
		denoms = make(map[string]*uint256.Int)
		o.balances[address] = denoms
	}
	if journaled {
		o.journal = append(o.journal, balanceChange{address: address, denom: denom, prev: denoms[denom]})
	}
	denoms[denom] = amount
}

// CheatBalance overrides a balance. Cheats are not journaled.
func (o *Overlay) CheatBalance(address string, coin models.Coin) error {
	amount, err := coin.AmountOf()
	if err != nil {
		return err
	}
	o.setBalance(address, coin.Denom, amount, false)
	return nil
}

// CheatStorage overrides one storage key of a contract
func (o *Overlay) CheatStorage(address string, key, value []byte) {
	o.writeSlot(address, string(key), slot{value: bytes.Clone(value)}, false)
}

// CheatCode replaces the code of an existing contract and keeps its storage
func (o *Overlay) CheatCode(ctx context.Context, address string, code []byte) error {
	current, err := o.GetCode(ctx, address)
	if err != nil {
		return err
	}
	o.contracts[address] = &contractEntry{
		codeID:  current.CodeID,
		code:    bytes.Clone(code),
		creator: current.Creator,
		admin:   current.Admin,
		label:   current.Label,
		local:   current.Local,
	}
	return nil
}

// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cwfork/internal/chain"
	"cwfork/internal/models"
)

// Contract is a remote contract served by Client
type Contract struct {
	CodeID  uint64
	Creator string
	Storage map[string][]byte
}

// Client is a fake chain. Zero value is not usable; call New.
type Client struct {
	mu sync.Mutex

	ChainID   string
	Height    uint64
	Time      time.Time
	Contracts map[string]Contract
	Codes     map[uint64][]byte
	Balances  map[string]models.Coins

	// Err, when set, is returned by every call
	Err error

	calls map[string]int
}

var _ chain.Client = (*Client)(nil)

// New returns an empty chain at height 100
func New() *Client {
	return &Client{
		ChainID:   "testchain-1",
		Height:    100,
		Time:      time.Unix(1_700_000_000, 0).UTC(),
		Contracts: make(map[string]Contract),
		Codes:     make(map[uint64][]byte),
		Balances:  make(map[string]models.Coins),
		calls:     make(map[string]int),
	}
}

// Calls returns how many times method was invoked
func (c *Client) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

func (c *Client) record(method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[method]++
	return c.Err
}

func (c *Client) Endpoint() string { return "fake://" + c.ChainID }

func (c *Client) LatestHeight(ctx context.Context) (uint64, error) {
	if err := c.record("LatestHeight"); err != nil {
		return 0, err
	}
	return c.Height, nil
}

func (c *Client) Block(ctx context.Context, height uint64) (*models.BlockHeader, error) {
	if err := c.record("Block"); err != nil {
		return nil, err
	}
	if height == 0 {
		height = c.Height
	}
	return &models.BlockHeader{ChainID: c.ChainID, Height: height, Time: c.Time}, nil
}

func (c *Client) ContractInfo(ctx context.Context, height uint64, address string) (*models.ContractRecord, error) {
	if err := c.record("ContractInfo"); err != nil {
		return nil, err
	}
	ct, ok := c.Contracts[address]
	if !ok {
		return nil, fmt.Errorf("contract %s: %w", address, chain.ErrNotFound)
	}
	return &models.ContractRecord{Address: address, CodeID: ct.CodeID, Creator: ct.Creator}, nil
}

func (c *Client) Code(ctx context.Context, height uint64, codeID uint64) ([]byte, error) {
	if err := c.record("Code"); err != nil {
		return nil, err
	}
	code, ok := c.Codes[codeID]
	if !ok {
		return nil, fmt.Errorf("code %d: %w", codeID, chain.ErrNotFound)
	}
	return code, nil
}

func (c *Client) ContractState(ctx context.Context, height uint64, address string) (map[string][]byte, error) {
	if err := c.record("ContractState"); err != nil {
		return nil, err
	}
	ct, ok := c.Contracts[address]
	if !ok {
		return nil, fmt.Errorf("contract %s: %w", address, chain.ErrNotFound)
	}
	out := make(map[string][]byte, len(ct.Storage))
	for k, v := range ct.Storage {
		out[k] = v
	}
	return out, nil
}

func (c *Client) AllBalances(ctx context.Context, height uint64, address string) (models.Coins, error) {
	if err := c.record("AllBalances"); err != nil {
		return nil, err
	}
	return c.Balances[address], nil
}

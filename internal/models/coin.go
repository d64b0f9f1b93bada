package models

import (
	"fmt"
	"sort"
	"strings"

	"github.com/holiman/uint256"
)

// Coin is the wire form of an amount of one denom. Amount is a decimal Uint128 string.
type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// NewCoin builds a Coin from a uint256 amount
func NewCoin(denom string, amount *uint256.Int) Coin {
	if amount == nil {
		amount = new(uint256.Int)
	}
	return Coin{Denom: denom, Amount: amount.Dec()}
}

// String renders the coin the way the bank module does, e.g. "100uatom"
func (c Coin) String() string {
	return c.Amount + c.Denom
}

// ParseAmount parses a Uint128 decimal string
func ParseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if v.BitLen() > 128 {
		return nil, fmt.Errorf("amount %q overflows Uint128", s)
	}
	return v, nil
}

// AmountOf parses the coin amount
func (c Coin) AmountOf() (*uint256.Int, error) {
	return ParseAmount(c.Amount)
}

// Coins is an ordered list of coins, as attached to a message
type Coins []Coin

// Validate checks amounts parse and no denom appears twice
func (cs Coins) Validate() error {
	seen := make(map[string]struct{}, len(cs))
	for _, c := range cs {
		if c.Denom == "" {
			return fmt.Errorf("coin with empty denom")
		}
		if _, dup := seen[c.Denom]; dup {
			return fmt.Errorf("duplicate denom %q in funds", c.Denom)
		}
		seen[c.Denom] = struct{}{}
		if _, err := c.AmountOf(); err != nil {
			return err
		}
	}
	return nil
}

// NonNil returns an empty slice for nil so JSON encodes [] instead of null
func (cs Coins) NonNil() Coins {
	if cs == nil {
		return Coins{}
	}
	return cs
}

// String renders the coins comma separated, e.g. "1uatom,2uosmo"
func (cs Coins) String() string {
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, ",")
}

// CoinsFromMap converts a denom → amount map into coins sorted by denom, skipping zeros
func CoinsFromMap(m map[string]*uint256.Int) Coins {
	out := make(Coins, 0, len(m))
	for denom, amount := range m {
		if amount == nil || amount.IsZero() {
			continue
		}
		out = append(out, NewCoin(denom, amount))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Denom < out[j].Denom })
	return out
}

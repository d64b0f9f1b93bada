package engine

import (
	"context"
	"fmt"

	"cwfork/internal/models"
)

// bankMsg executes a bank send or burn emitted by a contract
func (x *execution) bankMsg(ctx context.Context, f *frame) error {
	var (
		events []models.Event
		err    error
	)
	switch {
	case f.bank.Send != nil:
		if verr := models.ValidateAddress(x.e.prefix, f.bank.Send.ToAddress); verr != nil {
			return fmt.Errorf("invalid bank send recipient: %w", verr)
		}
		events, err = x.transfer(ctx, f.sender, f.bank.Send.ToAddress, f.bank.Send.Amount)
	case f.bank.Burn != nil:
		events, err = x.burn(ctx, f.sender, f.bank.Burn.Amount)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedMessage, f.msgKind)
	}
	if err != nil {
		return err
	}

	x.logs = append(x.logs, models.LogEntry{
		Contract: f.sender,
		Kind:     f.msgKind,
		Events:   events,
	}.Encode())
	f.events = append(f.events, events...)
	return nil
}

// transfer moves coins and returns the events the bank module emits for it
func (x *execution) transfer(ctx context.Context, from, to string, coins models.Coins) ([]models.Event, error) {
	coins = nonZero(coins)
	if len(coins) == 0 {
		return nil, nil
	}
	if err := x.e.overlay.Transfer(ctx, from, to, coins); err != nil {
		return nil, err
	}

	events := make([]models.Event, 0, 2*len(coins)+1)
	for _, coin := range coins {
		events = append(events,
			models.Event{Type: "coin_spent", Attributes: []models.Attribute{
				{Key: "spender", Value: from},
				{Key: "amount", Value: coin.String()},
			}},
			models.Event{Type: "coin_received", Attributes: []models.Attribute{
				{Key: "receiver", Value: to},
				{Key: "amount", Value: coin.String()},
			}},
		)
	}
	events = append(events, models.Event{Type: "transfer", Attributes: []models.Attribute{
		{Key: "recipient", Value: to},
		{Key: "sender", Value: from},
		{Key: "amount", Value: coins.String()},
	}})
	return events, nil
}

func (x *execution) burn(ctx context.Context, from string, coins models.Coins) ([]models.Event, error) {
	coins = nonZero(coins)
	if len(coins) == 0 {
		return nil, nil
	}
	if err := x.e.overlay.Burn(ctx, from, coins); err != nil {
		return nil, err
	}

	events := make([]models.Event, 0, len(coins)+1)
	for _, coin := range coins {
		events = append(events, models.Event{Type: "coin_spent", Attributes: []models.Attribute{
			{Key: "spender", Value: from},
			{Key: "amount", Value: coin.String()},
		}})
	}
	events = append(events, models.Event{Type: "burn", Attributes: []models.Attribute{
		{Key: "burner", Value: from},
		{Key: "amount", Value: coins.String()},
	}})
	return events, nil
}

// nonZero drops zero amounts. Coins that fail to parse are kept so the
// overlay reports them.
func nonZero(coins models.Coins) models.Coins {
	out := make(models.Coins, 0, len(coins))
	for _, c := range coins {
		if amount, err := c.AmountOf(); err == nil && amount.IsZero() {
			continue
		}
		out = append(out, c)
	}
	return out
}

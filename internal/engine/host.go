package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cwfork/internal/models"
	"cwfork/internal/state"
	"cwfork/internal/vm"
)

// host is what one contract instance sees of the chain
type host struct {
	x        *execution
	contract string
	depth    int
	readOnly bool
}

var _ vm.Host = (*host)(nil)

func (x *execution) newHost(contract string, depth int, readOnly bool) *host {
	return &host{x: x, contract: contract, depth: depth, readOnly: readOnly}
}

func (h *host) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	return h.x.e.overlay.GetStorage(ctx, h.contract, key)
}

func (h *host) Set(ctx context.Context, key, value []byte) error {
	if h.readOnly {
		return fmt.Errorf("%w: %s", ErrQueryWrite, h.contract)
	}
	h.x.e.overlay.PutStorage(h.contract, key, value)
	return nil
}

func (h *host) Remove(ctx context.Context, key []byte) error {
	if h.readOnly {
		return fmt.Errorf("%w: %s", ErrQueryWrite, h.contract)
	}
	h.x.e.overlay.RemoveStorage(h.contract, key)
	return nil
}

func (h *host) Scan(ctx context.Context, start, end []byte, order int32) ([]models.KV, error) {
	if order != vm.OrderAscending && order != vm.OrderDescending {
		return nil, fmt.Errorf("invalid scan order %d", order)
	}
	return h.x.e.overlay.Range(ctx, h.contract, start, end, state.Order(order))
}

// QueryChain answers a query issued by the contract one level deeper
func (h *host) QueryChain(ctx context.Context, request []byte) ([]byte, error) {
	var req models.QueryRequest
	var result *models.SystemResult
	if err := json.Unmarshal(request, &req); err != nil {
		result = &models.SystemResult{Err: &models.SystemError{
			InvalidRequest: &models.InvalidRequest{Error: err.Error(), Request: request},
		}}
	} else {
		var rerr error
		if result, rerr = h.x.route(ctx, req, h.depth+1); rerr != nil {
			return nil, rerr
		}
	}

	out, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query result: %w", err)
	}
	return out, nil
}

func (h *host) AddrValidate(addr string) error {
	return models.ValidateAddress(h.x.e.prefix, addr)
}

func (h *host) AddrCanonicalize(addr string) ([]byte, error) {
	if err := models.ValidateAddress(h.x.e.prefix, addr); err != nil {
		return nil, err
	}
	_, canonical, err := models.Bech32Decode(addr)
	return canonical, err
}

func (h *host) AddrHumanize(canonical []byte) (string, error) {
	if len(canonical) == 0 {
		return "", fmt.Errorf("empty canonical address")
	}
	return models.Bech32Encode(h.x.e.prefix, canonical)
}

func (h *host) Debug(msg string) {
	slog.Debug("Contract debug", "contract", h.contract, "msg", msg)
}

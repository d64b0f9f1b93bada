package chain

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cwfork/internal/models"
)

const (
	// heightHeader pins a gRPC-gateway query to a historical height
	heightHeader = "x-cosmos-block-height"

	maxResponseBytes = 64 << 20
	defaultPageSize  = 500
)

// LCDClient reads chain state through the Cosmos SDK REST gateway
type LCDClient struct {
	endpoint   string
	httpClient *http.Client
	pageSize   int
}

// NewLCDClient creates an LCD client for endpoint
func NewLCDClient(endpoint string, httpClient *http.Client, pageSize int) *LCDClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &LCDClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: httpClient,
		pageSize:   pageSize,
	}
}

// Endpoint returns the base URL
func (c *LCDClient) Endpoint() string {
	return c.endpoint
}

type blockResponse struct {
	Block struct {
		Header struct {
			ChainID string    `json:"chain_id"`
			Height  string    `json:"height"`
			Time    time.Time `json:"time"`
		} `json:"header"`
	} `json:"block"`
}

// LatestHeight returns the height of the latest block
func (c *LCDClient) LatestHeight(ctx context.Context) (uint64, error) {
	header, err := c.block(ctx, "/cosmos/base/tendermint/v1beta1/blocks/latest")
	if err != nil {
		return 0, err
	}
	return header.Height, nil
}

// Block returns the header at height, or the latest one when height is 0
func (c *LCDClient) Block(ctx context.Context, height uint64) (*models.BlockHeader, error) {
	if height == 0 {
		return c.block(ctx, "/cosmos/base/tendermint/v1beta1/blocks/latest")
	}
	return c.block(ctx, fmt.Sprintf("/cosmos/base/tendermint/v1beta1/blocks/%d", height))
}

func (c *LCDClient) block(ctx context.Context, path string) (*models.BlockHeader, error) {
	var resp blockResponse
	if err := c.get(ctx, 0, path, nil, &resp); err != nil {
		return nil, err
	}
	height, err := strconv.ParseUint(resp.Block.Header.Height, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid block height %q: %w", resp.Block.Header.Height, err)
	}
	return &models.BlockHeader{
		ChainID: resp.Block.Header.ChainID,
		Height:  height,
		Time:    resp.Block.Header.Time,
	}, nil
}

type contractInfoResponse struct {
	Address      string `json:"address"`
	ContractInfo struct {
		CodeID  string `json:"code_id"`
		Creator string `json:"creator"`
		Admin   string `json:"admin"`
		Label   string `json:"label"`
	} `json:"contract_info"`
}

// ContractInfo returns the code binding of a contract
func (c *LCDClient) ContractInfo(ctx context.Context, height uint64, address string) (*models.ContractRecord, error) {
	var resp contractInfoResponse
	path := "/cosmwasm/wasm/v1/contract/" + url.PathEscape(address)
	if err := c.get(ctx, height, path, nil, &resp); err != nil {
		return nil, err
	}
	codeID, err := strconv.ParseUint(resp.ContractInfo.CodeID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid code_id %q for %s: %w", resp.ContractInfo.CodeID, address, err)
	}
	return &models.ContractRecord{
		Address: address,
		CodeID:  codeID,
		Creator: resp.ContractInfo.Creator,
		Admin:   resp.ContractInfo.Admin,
		Label:   resp.ContractInfo.Label,
	}, nil
}

type codeResponse struct {
	Data []byte `json:"data"`
}

// Code returns the bytecode stored under codeID
func (c *LCDClient) Code(ctx context.Context, height uint64, codeID uint64) ([]byte, error) {
	var resp codeResponse
	if err := c.get(ctx, height, fmt.Sprintf("/cosmwasm/wasm/v1/code/%d", codeID), nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("code %d: %w", codeID, ErrNotFound)
	}
	return resp.Data, nil
}

type pagination struct {
	NextKey []byte `json:"next_key"`
}

type stateResponse struct {
	Models []struct {
		Key   string `json:"key"`
		Value []byte `json:"value"`
	} `json:"models"`
	Pagination pagination `json:"pagination"`
}

// ContractState pages through the full storage of a contract
func (c *LCDClient) ContractState(ctx context.Context, height uint64, address string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	path := "/cosmwasm/wasm/v1/contract/" + url.PathEscape(address) + "/state"

	var nextKey []byte
	for page := 0; ; page++ {
		var resp stateResponse
		if err := c.get(ctx, height, path, c.pageQuery(nextKey), &resp); err != nil {
			return nil, err
		}
		for _, m := range resp.Models {
			key, err := hex.DecodeString(m.Key)
			if err != nil {
				return nil, fmt.Errorf("invalid state key %q: %w", m.Key, err)
			}
			out[string(key)] = m.Value
		}
		if len(resp.Pagination.NextKey) == 0 {
			slog.Debug("Fetched contract state", "contract", address, "entries", len(out), "pages", page+1)
			return out, nil
		}
		nextKey = resp.Pagination.NextKey
	}
}

type balancesResponse struct {
	Balances   models.Coins `json:"balances"`
	Pagination pagination   `json:"pagination"`
}

// AllBalances pages through the bank balances of an address
func (c *LCDClient) AllBalances(ctx context.Context, height uint64, address string) (models.Coins, error) {
	var out models.Coins
	path := "/cosmos/bank/v1beta1/balances/" + url.PathEscape(address)

	var nextKey []byte
	for {
		var resp balancesResponse
		if err := c.get(ctx, height, path, c.pageQuery(nextKey), &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Balances...)
		if len(resp.Pagination.NextKey) == 0 {
			return out, nil
		}
		nextKey = resp.Pagination.NextKey
	}
}

func (c *LCDClient) pageQuery(nextKey []byte) url.Values {
	q := url.Values{}
	q.Set("pagination.limit", strconv.Itoa(c.pageSize))
	if len(nextKey) > 0 {
		q.Set("pagination.key", base64.StdEncoding.EncodeToString(nextKey))
	}
	return q
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// get performs a GET request pinned to height and decodes the JSON body into out
func (c *LCDClient) get(ctx context.Context, height uint64, path string, query url.Values, out any) error {
	u := c.endpoint + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if height > 0 {
		req.Header.Set(heightHeader, strconv.FormatUint(height, 10))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response of %s: %w", path, err)
	}

	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		_ = json.Unmarshal(body, &e)
		if isNotFound(e) {
			return fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		msg := e.Message
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return &StatusError{Path: path, Status: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response of %s: %w", path, err)
	}
	return nil
}

// grpcNotFound is the gRPC status code the gateway maps missing state to
const grpcNotFound = 5

// isNotFound recognises a missing contract or code. wasmd reports it as gRPC
// NotFound, or with its own "no such contract/code" error under a generic code.
// A bare 404 without either is a wrong route, not missing state.
func isNotFound(e errorResponse) bool {
	if e.Code == grpcNotFound {
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "no such contract") ||
		strings.Contains(msg, "no such code")
}

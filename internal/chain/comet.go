package chain

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/jhttp"

	"cwfork/internal/models"
)

// CometClient talks to a CometBFT node over JSON-RPC.
// It only serves status and block headers; contract state comes from the LCD.
type CometClient struct {
	endpoint string
	client   *jrpc2.Client
}

// NewCometClient dials endpoint over HTTP
func NewCometClient(endpoint string) *CometClient {
	ch := jhttp.NewChannel(endpoint, nil)
	return &CometClient{
		endpoint: endpoint,
		client:   jrpc2.NewClient(ch, nil),
	}
}

type statusResult struct {
	NodeInfo struct {
		Network string `json:"network"`
	} `json:"node_info"`
	SyncInfo struct {
		LatestBlockHeight string    `json:"latest_block_height"`
		LatestBlockTime   time.Time `json:"latest_block_time"`
	} `json:"sync_info"`
}

type blockResult struct {
	Block struct {
		Header struct {
			ChainID string    `json:"chain_id"`
			Height  string    `json:"height"`
			Time    time.Time `json:"time"`
		} `json:"header"`
	} `json:"block"`
}

// LatestHeight returns sync_info.latest_block_height from /status
func (c *CometClient) LatestHeight(ctx context.Context) (uint64, error) {
	var res statusResult
	if err := c.client.CallResult(ctx, "status", nil, &res); err != nil {
		return 0, fmt.Errorf("failed to call status on %s: %w", c.endpoint, err)
	}
	height, err := strconv.ParseUint(res.SyncInfo.LatestBlockHeight, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid latest_block_height %q: %w", res.SyncInfo.LatestBlockHeight, err)
	}
	return height, nil
}

// Block returns the header at height, or the latest header when height is 0
func (c *CometClient) Block(ctx context.Context, height uint64) (*models.BlockHeader, error) {
	var params any
	if height > 0 {
		params = map[string]string{"height": strconv.FormatUint(height, 10)}
	}

	var res blockResult
	if err := c.client.CallResult(ctx, "block", params, &res); err != nil {
		return nil, fmt.Errorf("failed to call block on %s: %w", c.endpoint, err)
	}
	h, err := strconv.ParseUint(res.Block.Header.Height, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid block height %q: %w", res.Block.Header.Height, err)
	}
	return &models.BlockHeader{
		ChainID: res.Block.Header.ChainID,
		Height:  h,
		Time:    res.Block.Header.Time,
	}, nil
}

// Close releases the underlying channel
func (c *CometClient) Close() error {
	return c.client.Close()
}

// cometLCDClient serves heights and headers from CometBFT and everything else from the LCD
type cometLCDClient struct {
	*LCDClient
	comet *CometClient
}

func (c *cometLCDClient) LatestHeight(ctx context.Context) (uint64, error) {
	return c.comet.LatestHeight(ctx)
}

func (c *cometLCDClient) Block(ctx context.Context, height uint64) (*models.BlockHeader, error) {
	return c.comet.Block(ctx, height)
}

func (c *cometLCDClient) Close() error {
	return c.comet.Close()
}

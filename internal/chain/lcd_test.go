package chain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testContract = "wasm14hj2tavq8fpesdwxxcu44rty3hh90vhujrvcmstl4zr3txmfvw9s0phg4d"

type heightLog struct {
	mu      sync.Mutex
	heights []string
}

func (l *heightLog) add(h string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.heights = append(l.heights, h)
}

func (l *heightLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.heights...)
}

func newLCDServer(t *testing.T) (*httptest.Server, *heightLog) {
	t.Helper()
	heights := &heightLog{}

	mux := http.NewServeMux()
	mux.HandleFunc("/cosmos/base/tendermint/v1beta1/blocks/latest", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"block":{"header":{"chain_id":"test-1","height":"4242","time":"2024-01-02T03:04:05.000000006Z"}}}`)
	})
	mux.HandleFunc("/cosmwasm/wasm/v1/contract/"+testContract, func(w http.ResponseWriter, r *http.Request) {
		heights.add(r.Header.Get(heightHeader))
		fmt.Fprint(w, `{"address":"`+testContract+`","contract_info":{"code_id":"17","creator":"wasm1creator","admin":"","label":"token"}}`)
	})
	mux.HandleFunc("/cosmwasm/wasm/v1/contract/"+testContract+"/state", func(w http.ResponseWriter, r *http.Request) {
		heights.add(r.Header.Get(heightHeader))
		value := base64.StdEncoding.EncodeToString([]byte(`"v"`))
		if r.URL.Query().Get("pagination.key") == "" {
			next := base64.StdEncoding.EncodeToString([]byte("page2"))
			fmt.Fprintf(w, `{"models":[{"key":"%s","value":"%s"}],"pagination":{"next_key":"%s"}}`,
				hex.EncodeToString([]byte("a")), value, next)
			return
		}
		fmt.Fprintf(w, `{"models":[{"key":"%s","value":"%s"}],"pagination":{"next_key":null}}`,
			hex.EncodeToString([]byte("b")), value)
	})
	mux.HandleFunc("/cosmwasm/wasm/v1/code/17", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []byte("\x00asm\x01\x00\x00\x00")})
	})
	mux.HandleFunc("/cosmwasm/wasm/v1/contract/wasm1missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"code":2,"message":"address wasm1missing: no such contract","details":[]}`)
	})
	mux.HandleFunc("/cosmwasm/wasm/v1/code/99", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"code":5,"message":"code 99: not found","details":[]}`)
	})
	mux.HandleFunc("/cosmwasm/wasm/v1/contract/wasm1flaky", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"code":13,"message":"store key not found in cache","details":[]}`)
	})
	mux.HandleFunc("/cosmos/bank/v1beta1/balances/wasm1rich", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"balances":[{"denom":"uatom","amount":"100"}],"pagination":{"next_key":null}}`)
	})
	mux.HandleFunc("/cosmos/bank/v1beta1/balances/wasm1broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream down")
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, heights
}

func TestLCDClient_Block(t *testing.T) {
	srv, _ := newLCDServer(t)
	c := NewLCDClient(srv.URL, srv.Client(), 0)

	height, err := c.LatestHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(4242), height)

	header, err := c.Block(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "test-1", header.ChainID)
	assert.Equal(t, 6, header.Time.Nanosecond())
}

func TestLCDClient_ContractPinsHeight(t *testing.T) {
	srv, heights := newLCDServer(t)
	c := NewLCDClient(srv.URL, srv.Client(), 1)

	info, err := c.ContractInfo(context.Background(), 4000, testContract)
	require.NoError(t, err)
	assert.Equal(t, uint64(17), info.CodeID)
	assert.Equal(t, "token", info.Label)

	state, err := c.ContractState(context.Background(), 4000, testContract)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a": []byte(`"v"`), "b": []byte(`"v"`)}, state)

	seen := heights.all()
	assert.Len(t, seen, 3)
	for _, h := range seen {
		assert.Equal(t, "4000", h)
	}
}

func TestLCDClient_Code(t *testing.T) {
	srv, _ := newLCDServer(t)
	c := NewLCDClient(srv.URL, srv.Client(), 0)

	code, err := c.Code(context.Background(), 1, 17)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x00asm\x01\x00\x00\x00"), code)
}

func TestLCDClient_NotFoundAndFailures(t *testing.T) {
	srv, _ := newLCDServer(t)
	c := NewLCDClient(srv.URL, srv.Client(), 0)

	_, err := c.ContractInfo(context.Background(), 1, "wasm1missing")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	_, err = c.AllBalances(context.Background(), 1, "wasm1broken")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "status 502")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 502, se.Status)
	assert.True(t, se.Temporary())

	_, err = c.Code(context.Background(), 1, 99)
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	// Only gRPC NotFound or a wasmd "no such" error means missing state
	_, err = c.ContractInfo(context.Background(), 1, "wasm1flaky")
	assert.False(t, errors.Is(err, ErrNotFound))
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 500, se.Status)

	// An unknown route answers a plain 404
	_, err = c.ContractInfo(context.Background(), 1, "wasm1elsewhere")
	assert.False(t, errors.Is(err, ErrNotFound))
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Status)
	assert.False(t, se.Temporary())

	coins, err := c.AllBalances(context.Background(), 1, "wasm1rich")
	require.NoError(t, err)
	require.Len(t, coins, 1)
	assert.Equal(t, "100", coins[0].Amount)
}

func TestCometClient_Status(t *testing.T) {
	type rpcRequest struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}
	answer := func(req rpcRequest) string {
		switch req.Method {
		case "status":
			return fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":{"node_info":{"network":"test-1"},"sync_info":{"latest_block_height":"77","latest_block_time":"2024-01-01T00:00:00Z"}}}`, req.ID)
		case "block":
			return fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":{"block":{"header":{"chain_id":"test-1","height":"70","time":"2024-01-01T00:00:00Z"}}}}`, req.ID)
		default:
			return fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"error":{"code":-32601,"message":"method not found"}}`, req.ID)
		}
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")

		body = bytes.TrimSpace(body)
		if len(body) > 0 && body[0] == '[' {
			var reqs []rpcRequest
			if err := json.Unmarshal(body, &reqs); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			parts := make([]string, 0, len(reqs))
			for _, req := range reqs {
				parts = append(parts, answer(req))
			}
			fmt.Fprint(w, "["+strings.Join(parts, ",")+"]")
			return
		}

		var req rpcRequest
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, answer(req))
	}))
	defer srv.Close()

	c := NewCometClient(srv.URL)
	defer c.Close()

	height, err := c.LatestHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(77), height)

	header, err := c.Block(context.Background(), 70)
	require.NoError(t, err)
	assert.Equal(t, uint64(70), header.Height)
	assert.Equal(t, "test-1", header.ChainID)
}

func TestBackend_Lifecycle(t *testing.T) {
	b := &Backend{ClientConfig: ClientConfig{}}
	assert.Error(t, b.Start())
	assert.False(t, b.IsAvailable())

	b = &Backend{ClientConfig: ClientConfig{Endpoint: "http://localhost:1317"}}
	require.NoError(t, b.Start())
	assert.True(t, b.IsAvailable())
	client, err := b.HandleBackend()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:1317", client.Endpoint())
	require.NoError(t, b.Close())
	assert.False(t, b.IsAvailable())
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"cwfork/internal/chain/chaintest"
	"cwfork/internal/models"
	"cwfork/internal/retry"
	"cwfork/internal/sandbox"
	"cwfork/internal/storage"
	"cwfork/internal/vm/vmtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// goleveldb stops its pool drainer asynchronously after Close
		goleak.IgnoreTopFunction("github.com/syndtr/goleveldb/leveldb.(*DB).mpoolDrain"),
	)
}

var (
	alice = models.AccountAddress(sandbox.DefaultPrefix, "alice")
	token = models.AccountAddress(sandbox.DefaultPrefix, "token")
)

func newTestServer(t *testing.T) (*Server, *sandbox.Model) {
	t.Helper()

	fake := chaintest.New()
	v := vmtest.New()
	fake.Codes[1] = v.Register("token", vmtest.Token())
	fake.Contracts[token] = chaintest.Contract{
		CodeID:  1,
		Creator: alice,
		Storage: map[string][]byte{"balance/" + alice: []byte("700")},
	}
	fake.Balances[alice] = models.Coins{{Denom: "uatom", Amount: "1000"}}

	repo, err := storage.NewLevelDBRepository("")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	noRetry := retry.Config{}
	ctx := context.Background()
	m, err := sandbox.NewWithClient(ctx, fake, sandbox.Options{
		VM:         v,
		Retry:      &noRetry,
		Repository: repo,
		SessionID:  "api-test",
		Height:     100,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(ctx) })

	return NewServer(0, m), m
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestServer_Session(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s, "/session")
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "api-test", got.SessionID)
	assert.Equal(t, uint64(100), got.Height)
	assert.Equal(t, "testchain-1", got.ChainID)
	assert.Equal(t, sandbox.DefaultPrefix, got.Prefix)
}

func TestServer_Balance(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s, "/balances/"+alice+"?denom=uatom")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"address":"`+alice+`","coin":{"denom":"uatom","amount":"1000"}}`, rec.Body.String())

	rec = get(t, s, "/balances/"+alice)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"address":"`+alice+`","coins":[{"denom":"uatom","amount":"1000"}]}`, rec.Body.String())

	rec = get(t, s, "/balances/")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Contract(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s, "/contracts/"+token)
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.ContractResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, uint64(1), got.CodeID)
	assert.False(t, got.Local)
	assert.Equal(t, len("token"), got.CodeSize)

	rec = get(t, s, "/contracts/"+models.AccountAddress(sandbox.DefaultPrefix, "nobody"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, s, "/contracts/"+token+"/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Query(t *testing.T) {
	s, _ := newTestServer(t)

	msg := url.QueryEscape(`{"balance":{"address":"` + alice + `"}}`)
	rec := get(t, s, "/contracts/"+token+"/query?msg="+msg)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"balance":"700"}}`, rec.Body.String())

	rec = get(t, s, "/contracts/"+token+"/query?msg=oops")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, s, "/contracts/"+token+"/query")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Simulations(t *testing.T) {
	s, m := newTestServer(t)
	ctx := context.Background()

	_, err := m.Query(ctx, token, []byte(`{"balance":{"address":"`+alice+`"}}`))
	require.NoError(t, err)
	_, err = m.Execute(ctx, token, []byte(`{"transfer":{"recipient":"`+alice+`","amount":"1"}}`), nil)
	require.NoError(t, err)

	rec := get(t, s, "/simulations?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.SimulationListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.Total)
	assert.Equal(t, 1, got.Limit)
	require.Len(t, got.Simulations, 1)
	assert.Equal(t, "query", got.Simulations[0].Kind)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/session", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusMethodNotAllowed, body.Code)
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query      string
		limit, off int
	}{
		{"", 50, 0},
		{"limit=10&offset=20", 10, 20},
		{"limit=1000", 50, 0},
		{"limit=-1&offset=-5", 50, 0},
		{"limit=abc", 50, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			require.NoError(t, err)
			limit, offset := ParsePagination(q)
			assert.Equal(t, tt.limit, limit)
			assert.Equal(t, tt.off, offset)
		})
	}
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "api-test", body["session"])
}

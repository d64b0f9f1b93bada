package remote

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"cwfork/internal/chain/chaintest"
	"cwfork/internal/models"
	"cwfork/internal/retry"
	"cwfork/internal/storage"

	"github.com/holiman/uint256"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/syndtr/goleveldb/leveldb.(*DB).mpoolDrain"),
	)
}

const testContract = "wasm1contract"

func newFakeChain() *chaintest.Client {
	fake := chaintest.New()
	fake.Codes[7] = []byte("\x00asm-code")
	fake.Contracts[testContract] = chaintest.Contract{
		CodeID:  7,
		Creator: "wasm1creator",
		Storage: map[string][]byte{
			"b": []byte("2"),
			"a": []byte("1"),
			"c": []byte("3"),
		},
	}
	fake.Balances["wasm1alice"] = models.Coins{{Denom: "uatom", Amount: "100"}}
	return fake
}

func newTestSource(fake *chaintest.Client, opts ...Option) *Source {
	opts = append([]Option{WithRetry(retry.NewNoRetryStrategy())}, opts...)
	return NewSource(fake, opts...)
}

func TestSource_HeightResolvedOnceAndPinned(t *testing.T) {
	fake := newFakeChain()
	src := newTestSource(fake)
	ctx := context.Background()

	h, err := src.Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), h)

	fake.Height = 150
	h, err = src.Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), h, "height stays pinned after first resolution")
	assert.Equal(t, 1, fake.Calls("LatestHeight"))
}

func TestSource_ExplicitHeightSkipsLatest(t *testing.T) {
	fake := newFakeChain()
	src := newTestSource(fake, WithHeight(42))

	h, err := src.Height(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), h)
	assert.Equal(t, 0, fake.Calls("LatestHeight"))

	block, err := src.Block(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), block.Height)
	assert.Equal(t, "testchain-1", block.ChainID)
}

func TestSource_FetchContractIsIdempotent(t *testing.T) {
	fake := newFakeChain()
	src := newTestSource(fake)
	ctx := context.Background()

	first, err := src.FetchContract(ctx, testContract)
	require.NoError(t, err)
	second, err := src.FetchContract(ctx, testContract)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, uint64(7), first.CodeID)
	assert.Equal(t, []byte("\x00asm-code"), first.Code)
	assert.Equal(t, []byte("2"), first.Storage["b"])
	assert.False(t, first.Local)

	assert.Equal(t, 1, fake.Calls("ContractInfo"))
	assert.Equal(t, 1, fake.Calls("Code"))
	assert.Equal(t, 1, fake.Calls("ContractState"))
}

func TestSource_NotFound(t *testing.T) {
	fake := newFakeChain()
	src := newTestSource(fake)
	ctx := context.Background()

	_, err := src.FetchContract(ctx, "wasm1missing")
	assert.ErrorIs(t, err, ErrContractNotFound)

	_, err = src.FetchContract(ctx, "wasm1missing")
	assert.ErrorIs(t, err, ErrContractNotFound)
	assert.Equal(t, 1, fake.Calls("ContractInfo"), "missing contracts are remembered")

	_, err = src.FetchCode(ctx, 999)
	assert.ErrorIs(t, err, ErrCodeNotFound)

	value, ok, err := src.FetchStorage(ctx, "wasm1missing", []byte("a"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, value)
}

func TestSource_RemoteUnavailable(t *testing.T) {
	fake := newFakeChain()
	fake.Err = errors.New("dial tcp 127.0.0.1:1317: connection refused")
	src := newTestSource(fake)

	_, err := src.FetchContract(context.Background(), testContract)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
	assert.NotErrorIs(t, err, ErrContractNotFound)
}

func TestSource_StorageAndScan(t *testing.T) {
	src := newTestSource(newFakeChain())
	ctx := context.Background()

	value, ok, err := src.FetchStorage(ctx, testContract, []byte("a"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), value)

	_, ok, err = src.FetchStorage(ctx, testContract, []byte("zz"))
	require.NoError(t, err)
	assert.False(t, ok)

	kvs, err := src.ScanStorage(ctx, testContract)
	require.NoError(t, err)
	require.Len(t, kvs, 3)
	for i, want := range []string{"a", "b", "c"} {
		assert.Equal(t, want, string(kvs[i].Key))
	}
}

func TestSource_Balances(t *testing.T) {
	fake := newFakeChain()
	src := newTestSource(fake)
	ctx := context.Background()

	bal, err := src.FetchBalance(ctx, "wasm1alice", "uatom")
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(100), bal)

	zero, err := src.FetchBalance(ctx, "wasm1alice", "uosmo")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	// Mutating the returned value must not leak into the cache
	bal.AddUint64(bal, 1)
	again, err := src.FetchBalance(ctx, "wasm1alice", "uatom")
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(100), again)
	assert.Equal(t, 1, fake.Calls("AllBalances"))
}

func TestSource_GzipCodeIsUnwrapped(t *testing.T) {
	fake := newFakeChain()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte("\x00asm-plain"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	fake.Codes[8] = buf.Bytes()

	src := newTestSource(fake)
	code, err := src.FetchCode(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x00asm-plain"), code)
}

func TestSource_Prefetch(t *testing.T) {
	fake := newFakeChain()
	fake.Contracts["wasm1other"] = chaintest.Contract{CodeID: 7}
	src := newTestSource(fake)
	ctx := context.Background()

	err := src.Prefetch(ctx, testContract, "wasm1other", "wasm1missing", testContract)
	require.NoError(t, err)

	_, err = src.FetchContract(ctx, "wasm1other")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.Calls("Code"), "shared code is fetched once")
	assert.LessOrEqual(t, fake.Calls("ContractState"), 2)
}

func TestSource_PersistentCache(t *testing.T) {
	repo, err := storage.NewLevelDBRepository("")
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()
	fake := newFakeChain()
	_, err = newTestSource(fake, WithRepository(repo)).FetchContract(ctx, testContract)
	require.NoError(t, err)

	// A second session at the same height is served from the repository
	fake.Err = errors.New("connection refused")
	rec, err := newTestSource(fake, WithRepository(repo), WithHeight(100)).FetchContract(ctx, testContract)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), rec.CodeID)
	assert.Equal(t, []byte("3"), rec.Storage["c"])
}

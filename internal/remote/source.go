// Package remote reads contract code, storage and balances from a live chain
// at a pinned height. Every answer is memoised for the process lifetime.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"cwfork/internal/chain"
	"cwfork/internal/metrics"
	"cwfork/internal/models"
	"cwfork/internal/retry"
	"cwfork/internal/storage"

	"github.com/holiman/uint256"
	"github.com/klauspost/compress/gzip"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrRemoteUnavailable wraps transport failures that survived retries
	ErrRemoteUnavailable = errors.New("remote unavailable")

	// ErrContractNotFound is returned for addresses with no contract
	ErrContractNotFound = errors.New("contract not found")

	// ErrCodeNotFound is returned for unknown code ids
	ErrCodeNotFound = errors.New("code not found")
)

const (
	kindHeight   = "height"
	kindBlock    = "block"
	kindContract = "contract"
	kindCode     = "code"
	kindState    = "state"
	kindBalances = "balances"

	prefetchLimit = 8
)

var gzipMagic = []byte{0x1f, 0x8b}

// Option configures a Source
type Option func(*Source)

// WithHeight pins the fork height. Zero means the latest height at first use.
func WithHeight(height uint64) Option {
	return func(s *Source) { s.height = height }
}

// WithRetry sets the retry strategy used for network reads
func WithRetry(strategy retry.Strategy) Option {
	return func(s *Source) { s.strategy = strategy }
}

// WithRepository enables the persistent remote-read cache
func WithRepository(repo storage.Repository) Option {
	return func(s *Source) { s.repo = repo }
}

// Source is the remote state source of a session.
// It is safe for concurrent use.
type Source struct {
	client   chain.Client
	strategy retry.Strategy
	repo     storage.Repository
	group    singleflight.Group
	tracer   trace.Tracer

	mu        sync.Mutex
	height    uint64
	block     *models.BlockHeader
	contracts map[string]*models.ContractRecord
	missing   map[string]struct{}
	codes     map[uint64][]byte
	balances  map[string]map[string]*uint256.Int
}

// NewSource creates a Source reading through client
func NewSource(client chain.Client, opts ...Option) *Source {
	s := &Source{
		client:    client,
		strategy:  retry.NewStrategy(retry.DefaultConfig()),
		tracer:    otel.Tracer("cwfork/remote"),
		contracts: make(map[string]*models.ContractRecord),
		missing:   make(map[string]struct{}),
		codes:     make(map[uint64][]byte),
		balances:  make(map[string]map[string]*uint256.Int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Height returns the pinned height, resolving the latest one on first use
func (s *Source) Height(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	height := s.height
	s.mu.Unlock()
	if height != 0 {
		return height, nil
	}

	v, err, _ := s.group.Do(kindHeight, func() (interface{}, error) {
		var latest uint64
		err := s.fetch(ctx, kindHeight, "latest", func(ctx context.Context) error {
			var err error
			latest, err = s.client.LatestHeight(ctx)
			return err
		})
		if err != nil {
			return uint64(0), err
		}

		s.mu.Lock()
		if s.height == 0 {
			s.height = latest
			slog.Info("📌 Pinned fork height", "height", latest, "endpoint", s.client.Endpoint())
		}
		latest = s.height
		s.mu.Unlock()

		metrics.ForkHeight.Set(float64(latest))
		return latest, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

// Block returns the header of the pinned block
func (s *Source) Block(ctx context.Context) (*models.BlockHeader, error) {
	s.mu.Lock()
	block := s.block
	s.mu.Unlock()
	if block != nil {
		metrics.RemoteFetches.WithLabelValues(kindBlock, "memory").Inc()
		return block, nil
	}

	height, err := s.Height(ctx)
	if err != nil {
		return nil, err
	}

	v, err, _ := s.group.Do(kindBlock, func() (interface{}, error) {
		raw, err := s.load(ctx, kindBlock, strconv.FormatUint(height, 10), func(ctx context.Context) ([]byte, error) {
			header, err := s.client.Block(ctx, height)
			if err != nil {
				return nil, err
			}
			return json.Marshal(header)
		})
		if err != nil {
			return nil, err
		}

		var header models.BlockHeader
		if err := json.Unmarshal(raw, &header); err != nil {
			return nil, fmt.Errorf("failed to decode block header: %w", err)
		}

		s.mu.Lock()
		s.block = &header
		s.mu.Unlock()
		return &header, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.BlockHeader), nil
}

// FetchContract returns the code and storage snapshot of a remote contract.
// The returned record is shared and must not be mutated.
func (s *Source) FetchContract(ctx context.Context, address string) (*models.ContractRecord, error) {
	s.mu.Lock()
	if rec, ok := s.contracts[address]; ok {
		s.mu.Unlock()
		metrics.RemoteFetches.WithLabelValues(kindContract, "memory").Inc()
		return rec, nil
	}
	if _, ok := s.missing[address]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrContractNotFound, address)
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do(kindContract+"/"+address, func() (interface{}, error) {
		return s.fetchContract(ctx, address)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.ContractRecord), nil
}

func (s *Source) fetchContract(ctx context.Context, address string) (*models.ContractRecord, error) {
	s.mu.Lock()
	cachedRec, ok := s.contracts[address]
	s.mu.Unlock()
	if ok {
		return cachedRec, nil
	}

	height, err := s.Height(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := s.load(ctx, kindContract, address, func(ctx context.Context) ([]byte, error) {
		info, err := s.client.ContractInfo(ctx, height, address)
		if err != nil {
			return nil, err
		}
		return json.Marshal(info)
	})
	if errors.Is(err, chain.ErrNotFound) {
		s.mu.Lock()
		s.missing[address] = struct{}{}
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrContractNotFound, address)
	}
	if err != nil {
		return nil, err
	}

	var rec models.ContractRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode contract info for %s: %w", address, err)
	}
	rec.Address = address
	rec.Local = false

	code, err := s.FetchCode(ctx, rec.CodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch code of contract %s: %w", address, err)
	}
	rec.Code = code

	rawState, err := s.load(ctx, kindState, address, func(ctx context.Context) ([]byte, error) {
		state, err := s.client.ContractState(ctx, height, address)
		if err != nil {
			return nil, err
		}
		return json.Marshal(sortedKVs(state))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch storage of contract %s: %w", address, err)
	}

	var kvs []models.KV
	if err := json.Unmarshal(rawState, &kvs); err != nil {
		return nil, fmt.Errorf("failed to decode storage of contract %s: %w", address, err)
	}
	rec.Storage = make(map[string][]byte, len(kvs))
	for _, kv := range kvs {
		rec.Storage[string(kv.Key)] = kv.Value
	}

	s.mu.Lock()
	s.contracts[address] = &rec
	cached := len(s.contracts)
	s.mu.Unlock()

	metrics.CachedContracts.Set(float64(cached))
	slog.Debug("Fetched remote contract",
		"address", address,
		"code_id", rec.CodeID,
		"storage_keys", len(rec.Storage))

	return &rec, nil
}

// FetchCode returns the uncompressed wasm stored under codeID
func (s *Source) FetchCode(ctx context.Context, codeID uint64) ([]byte, error) {
	s.mu.Lock()
	if code, ok := s.codes[codeID]; ok {
		s.mu.Unlock()
		metrics.RemoteFetches.WithLabelValues(kindCode, "memory").Inc()
		return code, nil
	}
	s.mu.Unlock()

	key := strconv.FormatUint(codeID, 10)
	v, err, _ := s.group.Do(kindCode+"/"+key, func() (interface{}, error) {
		s.mu.Lock()
		code, ok := s.codes[codeID]
		s.mu.Unlock()
		if ok {
			return code, nil
		}

		height, err := s.Height(ctx)
		if err != nil {
			return nil, err
		}

		raw, err := s.load(ctx, kindCode, key, func(ctx context.Context) ([]byte, error) {
			return s.client.Code(ctx, height, codeID)
		})
		if errors.Is(err, chain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrCodeNotFound, codeID)
		}
		if err != nil {
			return nil, err
		}

		code, err = unwrapCode(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress code %d: %w", codeID, err)
		}

		s.mu.Lock()
		s.codes[codeID] = code
		s.mu.Unlock()
		return code, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// FetchStorage returns one remote storage value.
// Missing keys and unknown contracts are reported as absent.
func (s *Source) FetchStorage(ctx context.Context, address string, key []byte) ([]byte, bool, error) {
	rec, err := s.FetchContract(ctx, address)
	if errors.Is(err, ErrContractNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	value, ok := rec.Storage[string(key)]
	return value, ok, nil
}

// ScanStorage returns the remote storage of a contract sorted by key
func (s *Source) ScanStorage(ctx context.Context, address string) ([]models.KV, error) {
	rec, err := s.FetchContract(ctx, address)
	if errors.Is(err, ErrContractNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sortedKVs(rec.Storage), nil
}

// FetchBalance returns the remote balance of one denom, zero when absent
func (s *Source) FetchBalance(ctx context.Context, address, denom string) (*uint256.Int, error) {
	all, err := s.FetchAllBalances(ctx, address)
	if err != nil {
		return nil, err
	}
	if amount, ok := all[denom]; ok {
		return amount, nil
	}
	return new(uint256.Int), nil
}

// FetchAllBalances returns a copy of every remote balance of an address
func (s *Source) FetchAllBalances(ctx context.Context, address string) (map[string]*uint256.Int, error) {
	s.mu.Lock()
	cached, ok := s.balances[address]
	s.mu.Unlock()
	if ok {
		metrics.RemoteFetches.WithLabelValues(kindBalances, "memory").Inc()
		return copyBalances(cached), nil
	}

	v, err, _ := s.group.Do(kindBalances+"/"+address, func() (interface{}, error) {
		height, err := s.Height(ctx)
		if err != nil {
			return nil, err
		}

		raw, err := s.load(ctx, kindBalances, address, func(ctx context.Context) ([]byte, error) {
			coins, err := s.client.AllBalances(ctx, height, address)
			if err != nil {
				return nil, err
			}
			return json.Marshal(coins.NonNil())
		})
		if errors.Is(err, chain.ErrNotFound) {
			raw, err = []byte("[]"), nil
		}
		if err != nil {
			return nil, err
		}

		var coins models.Coins
		if err := json.Unmarshal(raw, &coins); err != nil {
			return nil, fmt.Errorf("failed to decode balances of %s: %w", address, err)
		}

		balances := make(map[string]*uint256.Int, len(coins))
		for _, coin := range coins {
			amount, err := coin.AmountOf()
			if err != nil {
				return nil, fmt.Errorf("failed to parse balance of %s: %w", address, err)
			}
			balances[coin.Denom] = amount
		}

		s.mu.Lock()
		s.balances[address] = balances
		s.mu.Unlock()
		return balances, nil
	})
	if err != nil {
		return nil, err
	}
	return copyBalances(v.(map[string]*uint256.Int)), nil
}

// Prefetch warms the contract cache for addrs concurrently.
// Unknown addresses are skipped.
func (s *Source) Prefetch(ctx context.Context, addrs ...string) error {
	if _, err := s.Height(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(prefetchLimit)
	for _, addr := range addrs {
		addr := addr
		g.Go(func() error {
			_, err := s.FetchContract(gctx, addr)
			if errors.Is(err, ErrContractNotFound) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to prefetch contracts: %w", err)
	}
	return nil
}

// load returns a remote answer from the persistent cache, or fetches it
// through the retry strategy and writes it back.
func (s *Source) load(ctx context.Context, kind, key string, fetch func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	var cacheKey storage.CacheKey
	if s.repo != nil {
		s.mu.Lock()
		height := s.height
		s.mu.Unlock()
		cacheKey = storage.CacheKey{Endpoint: s.client.Endpoint(), Height: height, Kind: kind, Key: key}

		value, ok, err := s.repo.LoadRemote(ctx, cacheKey)
		if err != nil {
			slog.Warn("Failed to read remote cache, falling back to network",
				"kind", kind,
				"key", key,
				"error", err)
		}
		if ok {
			metrics.RemoteFetches.WithLabelValues(kind, "repository").Inc()
			return value, nil
		}
	}

	var value []byte
	err := s.fetch(ctx, kind, key, func(ctx context.Context) error {
		var err error
		value, err = fetch(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.repo != nil {
		if err := s.repo.SaveRemote(ctx, cacheKey, value); err != nil {
			slog.Warn("Failed to write remote cache",
				"kind", kind,
				"key", key,
				"error", err)
		}
	}
	return value, nil
}

// fetch runs one network read with retries and tracing.
// NotFound passes through; every other failure becomes ErrRemoteUnavailable.
func (s *Source) fetch(ctx context.Context, kind, key string, op retry.Operation) error {
	ctx, span := s.tracer.Start(ctx, "remote."+kind, trace.WithAttributes(
		attribute.String("remote.kind", kind),
		attribute.String("remote.key", key),
	))
	defer span.End()

	start := time.Now()
	err := s.strategy.Execute(ctx, retry.OperationInfo{Name: kind, Key: key}, op)
	metrics.RemoteFetchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	metrics.RemoteFetches.WithLabelValues(kind, "network").Inc()

	if err == nil {
		return nil
	}
	if errors.Is(err, chain.ErrNotFound) {
		span.SetAttributes(attribute.Bool("remote.not_found", true))
		return err
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return fmt.Errorf("%w: failed to fetch %s %s: %w", ErrRemoteUnavailable, kind, key, err)
}

func unwrapCode(raw []byte) ([]byte, error) {
	if !bytes.HasPrefix(raw, gzipMagic) {
		return raw, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func sortedKVs(state map[string][]byte) []models.KV {
	kvs := make([]models.KV, 0, len(state))
	for k, v := range state {
		kvs = append(kvs, models.KV{Key: []byte(k), Value: v})
	}
	sort.Slice(kvs, func(i, j int) bool {
		return bytes.Compare(kvs[i].Key, kvs[j].Key) < 0
	})
	return kvs
}

func copyBalances(in map[string]*uint256.Int) map[string]*uint256.Int {
	out := make(map[string]*uint256.Int, len(in))
	for denom, amount := range in {
		out[denom] = new(uint256.Int).Set(amount)
	}
	return out
}

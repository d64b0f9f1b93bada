// Package sandbox is the session facade over a forked chain: it owns the
// remote source, the overlay, the VM and the engine of one simulation session.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cwfork/internal/chain"
	"cwfork/internal/engine"
	"cwfork/internal/models"
	"cwfork/internal/remote"
	"cwfork/internal/retry"
	"cwfork/internal/state"
	"cwfork/internal/storage"
	"cwfork/internal/vm"

	"github.com/holiman/uint256"
)

// DefaultPrefix is used when Options.Prefix is empty
const DefaultPrefix = "wasm"

// ErrClosed is returned by calls on a closed Model
var ErrClosed = errors.New("sandbox is closed")

// Options configures a Model
type Options struct {
	// LCD endpoint of the chain to fork
	RPCEndpoint string

	// Optional CometBFT RPC endpoint for status and block headers
	CometEndpoint string

	// Height pins the fork. 0 forks the latest block.
	Height uint64

	// Bech32 prefix of the chain
	Prefix string

	MaxDepth      int
	CodeCacheSize int

	// HTTPTimeout is in seconds
	HTTPTimeout int

	// Retry configures remote fetches; nil uses retry.DefaultConfig
	Retry *retry.Config

	// Repository persists remote answers and archives call results. Optional.
	Repository storage.Repository

	// SessionID names archived results; generated when empty
	SessionID string

	// VM overrides the wazero runtime
	VM vm.VM
}

// Model is one simulation session. All methods are safe for concurrent use
// and run strictly one at a time.
type Model struct {
	mu sync.Mutex

	backend *chain.Backend
	source  *remote.Source
	overlay *state.Overlay
	engine  *engine.Engine
	vm      vm.VM
	ownsVM  bool

	repo      storage.Repository
	sessionID string
	seq       uint64
	sender    string
	closed    bool
}

// New forks the chain behind opts.RPCEndpoint
func New(ctx context.Context, opts Options) (*Model, error) {
	backend := &chain.Backend{ClientConfig: chain.ClientConfig{
		Endpoint:      opts.RPCEndpoint,
		CometEndpoint: opts.CometEndpoint,
		TimeoutConfig: chain.ClientTimeoutConfig{Timeout: opts.HTTPTimeout},
	}}
	if err := backend.Start(); err != nil {
		return nil, fmt.Errorf("failed to build chain client: %w", err)
	}
	client, err := backend.HandleBackend()
	if err != nil {
		return nil, fmt.Errorf("failed to build chain client: %w", err)
	}

	m, err := NewWithClient(ctx, client, opts)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	m.backend = backend
	return m, nil
}

// NewWithClient forks the chain served by client
func NewWithClient(ctx context.Context, client chain.Client, opts Options) (*Model, error) {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	retryCfg := retry.DefaultConfig()
	if opts.Retry != nil {
		retryCfg = *opts.Retry
	}

	srcOpts := []remote.Option{remote.WithRetry(retry.NewStrategy(retryCfg))}
	if opts.Height > 0 {
		srcOpts = append(srcOpts, remote.WithHeight(opts.Height))
	}
	if opts.Repository != nil {
		srcOpts = append(srcOpts, remote.WithRepository(opts.Repository))
	}
	source := remote.NewSource(client, srcOpts...)

	header, err := source.Block(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve fork block: %w", err)
	}

	machine, ownsVM := opts.VM, false
	if machine == nil {
		size := opts.CodeCacheSize
		if size <= 0 {
			size = vm.DefaultCodeCacheSize
		}
		machine, err = vm.NewWazeroVM(ctx, size)
		if err != nil {
			return nil, fmt.Errorf("failed to create wasm runtime: %w", err)
		}
		ownsVM = true
	}

	overlay := state.NewOverlay(source)
	eng := engine.New(machine, overlay, engine.Config{
		Prefix:   opts.Prefix,
		MaxDepth: opts.MaxDepth,
		Block: models.BlockInfo{
			Height:  header.Height,
			Time:    models.Uint64(header.Time.UnixNano()),
			ChainID: header.ChainID,
		},
	})

	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = fmt.Sprintf("%s-%d-%d", header.ChainID, header.Height, time.Now().UnixNano())
	}

	slog.Info("🍴 Forked chain",
		"chain_id", header.ChainID,
		"height", header.Height,
		"endpoint", client.Endpoint(),
		"session", sessionID,
	)

	return &Model{
		source:    source,
		overlay:   overlay,
		engine:    eng,
		vm:        machine,
		ownsVM:    ownsVM,
		repo:      opts.Repository,
		sessionID: sessionID,
		sender:    models.DefaultSender(opts.Prefix),
	}, nil
}

func (m *Model) lock() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	return nil
}

//---------- Cheats ---------

// CheatMessageSender signs every later top-level call with addr
func (m *Model) CheatMessageSender(addr string) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()

	if err := models.ValidateAddress(m.engine.Prefix(), addr); err != nil {
		return fmt.Errorf("failed to cheat sender: %w", err)
	}
	m.sender = addr
	return nil
}

// CheatCode replaces the code of an existing contract, keeping its storage.
// Code that does not load as a contract is rejected and the old code stays.
func (m *Model) CheatCode(ctx context.Context, addr string, code []byte) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()

	if err := m.vm.Validate(ctx, code); err != nil {
		return fmt.Errorf("failed to validate code for %s: %w", addr, err)
	}
	if err := m.overlay.CheatCode(ctx, addr, code); err != nil {
		return fmt.Errorf("failed to cheat code of %s: %w", addr, err)
	}
	slog.Debug("Cheated contract code", "contract", addr, "size", len(code))
	return nil
}

// CheatBankBalance sets the balance of addr in coin.Denom to coin.Amount
func (m *Model) CheatBankBalance(addr string, coin models.Coin) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()

	if err := m.overlay.CheatBalance(addr, coin); err != nil {
		return fmt.Errorf("failed to cheat balance of %s: %w", addr, err)
	}
	return nil
}

// CheatStorage overrides one storage key of a contract
func (m *Model) CheatStorage(addr string, key, value []byte) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()

	m.overlay.CheatStorage(addr, key, value)
	return nil
}

// CheatBlockHeight moves the block clock to height
func (m *Model) CheatBlockHeight(height uint64) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()

	m.engine.SetBlockHeight(height)
	return nil
}

// CheatBlockTimestamp sets the block time in nanoseconds since epoch
func (m *Model) CheatBlockTimestamp(nanos uint64) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()

	m.engine.SetBlockTime(nanos)
	return nil
}

// AddCustomCode registers code under codeID for this session only
func (m *Model) AddCustomCode(ctx context.Context, codeID uint64, code []byte) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()

	if err := m.vm.Validate(ctx, code); err != nil {
		return fmt.Errorf("failed to validate custom code %d: %w", codeID, err)
	}
	m.overlay.AddCustomCode(codeID, code)
	slog.Debug("Registered custom code", "code_id", codeID, "size", len(code))
	return nil
}

//---------- Instrumentation ---------

func (m *Model) EnableCodeCoverage() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engine.SetCoverage(true)
}

func (m *Model) DisableCodeCoverage() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engine.SetCoverage(false)
}

func (m *Model) EnableCallTrace() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engine.SetCallTrace(true)
}

// Coverage returns every coverage buffer captured in the session
func (m *Model) Coverage() map[string][][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine.Coverage()
}

//---------- Calls ---------

// Instantiate creates a contract from codeID, signed by the current sender
func (m *Model) Instantiate(ctx context.Context, codeID uint64, msg []byte, funds models.Coins) (*engine.Result, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	res := m.engine.Run(ctx, engine.Call{
		Kind:   engine.CallInstantiate,
		Sender: m.sender,
		CodeID: codeID,
		Label:  fmt.Sprintf("cwfork-%d", codeID),
		Msg:    msg,
		Funds:  funds,
	})
	m.archive(ctx, string(engine.CallInstantiate), fmt.Sprintf("code:%d", codeID), res)
	return res, nil
}

// Execute calls the execute entry point of addr, signed by the current sender
func (m *Model) Execute(ctx context.Context, addr string, msg []byte, funds models.Coins) (*engine.Result, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	res := m.engine.Run(ctx, engine.Call{
		Kind:     engine.CallExecute,
		Sender:   m.sender,
		Contract: addr,
		Msg:      msg,
		Funds:    funds,
	})
	m.archive(ctx, string(engine.CallExecute), addr, res)
	return res, nil
}

// QueryResult runs a smart query and returns the full result
func (m *Model) QueryResult(ctx context.Context, addr string, msg []byte) (*engine.Result, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	res := m.engine.Query(ctx, addr, msg)
	m.archive(ctx, "query", addr, res)
	return res, nil
}

// Query runs a smart query and returns the answer bytes
func (m *Model) Query(ctx context.Context, addr string, msg []byte) ([]byte, error) {
	res, err := m.QueryResult(ctx, addr, msg)
	if err != nil {
		return nil, err
	}
	if res.Failed() {
		return nil, res.Err()
	}
	return res.Data(), nil
}

// WasmQuery answers a JSON-encoded WasmQuery (smart, raw or contract_info)
func (m *Model) WasmQuery(ctx context.Context, payload []byte) ([]byte, error) {
	var q models.WasmQuery
	if err := json.Unmarshal(payload, &q); err != nil {
		return nil, fmt.Errorf("failed to decode wasm query: %w", err)
	}
	return m.queryRequest(ctx, models.QueryRequest{Wasm: &q})
}

// BankQuery answers a JSON-encoded BankQuery (balance or all_balances)
func (m *Model) BankQuery(ctx context.Context, payload []byte) ([]byte, error) {
	var q models.BankQuery
	if err := json.Unmarshal(payload, &q); err != nil {
		return nil, fmt.Errorf("failed to decode bank query: %w", err)
	}
	return m.queryRequest(ctx, models.QueryRequest{Bank: &q})
}

func (m *Model) queryRequest(ctx context.Context, req models.QueryRequest) ([]byte, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	return m.engine.QueryRequest(ctx, req)
}

//---------- Inspection ---------

// Balance returns the current balance of addr in denom
func (m *Model) Balance(ctx context.Context, addr, denom string) (*uint256.Int, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	return m.overlay.GetBalance(ctx, addr, denom)
}

// AllBalances returns every non-zero balance of addr
func (m *Model) AllBalances(ctx context.Context, addr string) (models.Coins, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	return m.overlay.AllBalances(ctx, addr)
}

// Code returns the contract bound to addr, cheats included
func (m *Model) Code(ctx context.Context, addr string) (*models.ContractRecord, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	return m.overlay.GetCode(ctx, addr)
}

// Storage reads one storage key of a contract
func (m *Model) Storage(ctx context.Context, addr string, key []byte) ([]byte, bool, error) {
	if err := m.lock(); err != nil {
		return nil, false, err
	}
	defer m.mu.Unlock()
	return m.overlay.GetStorage(ctx, addr, key)
}

// Block returns the block the next call executes in
func (m *Model) Block() models.BlockInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine.Block()
}

// ForkHeight is the pinned height of the remote chain
func (m *Model) ForkHeight(ctx context.Context) (uint64, error) {
	return m.source.Height(ctx)
}

// Sender returns the address signing top-level calls
func (m *Model) Sender() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sender
}

func (m *Model) SessionID() string { return m.sessionID }

func (m *Model) Prefix() string { return m.engine.Prefix() }

// Prefetch warms the remote cache for addrs concurrently
func (m *Model) Prefetch(ctx context.Context, addrs ...string) error {
	return m.source.Prefetch(ctx, addrs...)
}

// Simulations lists the archived results of this session
func (m *Model) Simulations(ctx context.Context, limit, offset int) ([]*models.SimulationRecord, int, error) {
	if m.repo == nil {
		return []*models.SimulationRecord{}, 0, nil
	}
	records, err := m.repo.ListSimulations(ctx, m.sessionID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list simulations: %w", err)
	}
	total, err := m.repo.CountSimulations(ctx, m.sessionID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count simulations: %w", err)
	}
	return records, total, nil
}

// Ping checks the archive repository, if any
func (m *Model) Ping(ctx context.Context) error {
	if m.repo == nil {
		return nil
	}
	return m.repo.Ping(ctx)
}

// Close releases the VM and the chain client
func (m *Model) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	if m.ownsVM {
		if err := m.vm.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close vm: %w", err))
		}
	}
	if m.backend != nil {
		if err := m.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close chain client: %w", err))
		}
	}
	return errors.Join(errs...)
}

// archive stores a call result in the repository. Failures are logged only.
func (m *Model) archive(ctx context.Context, kind, target string, res *engine.Result) {
	if m.repo == nil {
		return
	}
	m.seq++
	record := &models.SimulationRecord{
		SessionID: m.sessionID,
		Seq:       m.seq,
		Kind:      kind,
		Target:    target,
		Height:    res.Height(),
		Error:     res.ErrMsg(),
		ErrorKind: string(res.ErrKind()),
		Events:    res.Log(),
		Stdout:    res.Stdout(),
		CreatedAt: time.Now().UTC(),
	}
	if err := m.repo.SaveSimulation(ctx, record); err != nil {
		slog.Warn("Failed to archive simulation",
			"session", m.sessionID,
			"seq", m.seq,
			"error", err)
	}
}

package vm

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"cwfork/internal/metrics"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

const (
	// memoryLimitPages caps guest memory at 32 MiB
	memoryLimitPages = 512

	// DefaultCodeCacheSize is the number of compiled modules kept
	DefaultCodeCacheSize = 64
)

var requiredExports = []string{"allocate", "deallocate"}

// WazeroVM runs CosmWasm contracts on wazero
type WazeroVM struct {
	runtime wazero.Runtime

	mu    sync.Mutex
	cache *lru.Cache[[32]byte, wazero.CompiledModule]
}

var _ VM = (*WazeroVM)(nil)

// NewWazeroVM creates a runtime with the CosmWasm env imports and a compiled
// module cache of cacheSize entries
func NewWazeroVM(ctx context.Context, cacheSize int) (*WazeroVM, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCodeCacheSize
	}

	config := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(memoryLimitPages).
		WithCloseOnContextDone(true)
	r := wazero.NewRuntimeWithConfig(ctx, config)

	if err := registerHostModule(ctx, r); err != nil {
		r.Close(ctx)
		return nil, err
	}

	cache, err := lru.NewWithEvict[[32]byte, wazero.CompiledModule](cacheSize, func(_ [32]byte, compiled wazero.CompiledModule) {
		if err := compiled.Close(context.Background()); err != nil {
			slog.Warn("Failed to close evicted module", "error", err)
		}
	})
	if err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("failed to create module cache: %w", err)
	}

	return &WazeroVM{runtime: r, cache: cache}, nil
}

// Validate compiles code and checks the CosmWasm exports
func (v *WazeroVM) Validate(ctx context.Context, code []byte) error {
	_, err := v.compile(ctx, code)
	return err
}

// Load instantiates a fresh anonymous module of code
func (v *WazeroVM) Load(ctx context.Context, code []byte, host Host) (Instance, error) {
	compiled, err := v.compile(ctx, code)
	if err != nil {
		return nil, err
	}

	config := wazero.NewModuleConfig().WithName("").WithStartFunctions()
	mod, err := v.runtime.InstantiateModule(ctx, compiled, config)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to instantiate module: %v", ErrTrap, err)
	}

	return &wazeroInstance{mod: mod, env: &hostEnv{host: host}}, nil
}

func (v *WazeroVM) compile(ctx context.Context, code []byte) (wazero.CompiledModule, error) {
	key := sha256.Sum256(code)

	v.mu.Lock()
	defer v.mu.Unlock()

	if compiled, ok := v.cache.Get(key); ok {
		metrics.ModuleCacheHits.Inc()
		return compiled, nil
	}
	metrics.ModuleCacheMisses.Inc()

	compiled, err := v.runtime.CompileModule(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}
	if err := checkExports(compiled); err != nil {
		compiled.Close(ctx)
		return nil, err
	}

	v.cache.Add(key, compiled)
	return compiled, nil
}

func checkExports(compiled wazero.CompiledModule) error {
	exports := compiled.ExportedFunctions()
	for _, name := range requiredExports {
		if _, ok := exports[name]; !ok {
			return fmt.Errorf("%w: missing export %s", ErrInvalidCode, name)
		}
	}

	hasVersion := false
	for name := range exports {
		if strings.HasPrefix(name, "interface_version_") {
			hasVersion = true
			break
		}
	}
	if !hasVersion {
		return fmt.Errorf("%w: missing interface_version export", ErrInvalidCode)
	}

	if len(compiled.ExportedMemories()) == 0 {
		return fmt.Errorf("%w: missing memory export", ErrInvalidCode)
	}
	return nil
}

// Close releases the runtime and every cached module
func (v *WazeroVM) Close(ctx context.Context) error {
	v.mu.Lock()
	v.cache.Purge()
	v.mu.Unlock()
	return v.runtime.Close(ctx)
}

type wazeroInstance struct {
	mod api.Module
	env *hostEnv
}

func (i *wazeroInstance) Instantiate(ctx context.Context, env, info, msg []byte) ([]byte, error) {
	return i.call(ctx, "instantiate", env, info, msg)
}

func (i *wazeroInstance) Execute(ctx context.Context, env, info, msg []byte) ([]byte, error) {
	return i.call(ctx, "execute", env, info, msg)
}

func (i *wazeroInstance) Query(ctx context.Context, env, msg []byte) ([]byte, error) {
	return i.call(ctx, "query", env, msg)
}

func (i *wazeroInstance) Reply(ctx context.Context, env, reply []byte) ([]byte, error) {
	return i.call(ctx, "reply", env, reply)
}

func (i *wazeroInstance) Coverage(ctx context.Context) ([]byte, error) {
	if i.mod.ExportedFunction("dump_coverage") == nil {
		return nil, nil
	}
	return i.call(ctx, "dump_coverage")
}

func (i *wazeroInstance) Close(ctx context.Context) error {
	return i.mod.Close(ctx)
}

// call writes args into guest regions, runs the export and reads its result region
func (i *wazeroInstance) call(ctx context.Context, name string, args ...[]byte) ([]byte, error) {
	fn := i.mod.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("%w: missing export %s", ErrTrap, name)
	}

	ctx = context.WithValue(ctx, envKey{}, i.env)
	i.env.err = nil
	i.env.iterators = nil

	params := make([]uint64, 0, len(args))
	for _, arg := range args {
		ptr, err := allocateRegion(ctx, i.mod, arg)
		if err != nil {
			return nil, err
		}
		params = append(params, uint64(ptr))
	}

	res, err := fn.Call(ctx, params...)
	if i.env.err != nil {
		return nil, i.env.err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTrap, name, err)
	}
	if len(res) != 1 {
		return nil, fmt.Errorf("%w: %s returned %d values", ErrTrap, name, len(res))
	}

	resultPtr := uint32(res[0])
	out, err := readRegion(i.mod.Memory(), resultPtr, maxResultLen)
	if err != nil {
		return nil, err
	}

	if dealloc := i.mod.ExportedFunction("deallocate"); dealloc != nil {
		if _, err := dealloc.Call(ctx, uint64(resultPtr)); err != nil {
			slog.Debug("Failed to release result region", "export", name, "error", err)
		}
	}
	return out, nil
}

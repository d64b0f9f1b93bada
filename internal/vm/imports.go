package vm

import (
	"context"
	"fmt"

	"cwfork/internal/models"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

type envKey struct{}

// hostEnv is the per-instance state behind the env imports
type hostEnv struct {
	host      Host
	iterators []*iterator

	// err is the first fatal error raised by an import; the import then
	// panics to unwind the guest
	err error
}

type iterator struct {
	kvs []models.KV
	pos int
}

func envFrom(ctx context.Context) *hostEnv {
	env, ok := ctx.Value(envKey{}).(*hostEnv)
	if !ok {
		panic(fmt.Errorf("%w: import called outside of an entry point", ErrTrap))
	}
	return env
}

// fail records err and unwinds the guest
func (e *hostEnv) fail(err error) {
	if e.err == nil {
		e.err = err
	}
	panic(err)
}

func (e *hostEnv) read(m api.Module, ptr, maxLen uint32) []byte {
	data, err := readRegion(m.Memory(), ptr, maxLen)
	if err != nil {
		e.fail(err)
	}
	return data
}

func (e *hostEnv) alloc(ctx context.Context, m api.Module, data []byte) uint32 {
	ptr, err := allocateRegion(ctx, m, data)
	if err != nil {
		e.fail(err)
	}
	return ptr
}

// errorRegion returns a region holding msg, used by the address imports
func (e *hostEnv) errorRegion(ctx context.Context, m api.Module, msg string) uint32 {
	return e.alloc(ctx, m, []byte(msg))
}

// registerHostModule exports the CosmWasm env imports into r
func registerHostModule(ctx context.Context, r wazero.Runtime) error {
	imports := map[string]interface{}{
		"db_read":                  dbRead,
		"db_write":                 dbWrite,
		"db_remove":                dbRemove,
		"db_scan":                  dbScan,
		"db_next":                  dbNext,
		"db_next_key":              dbNextKey,
		"db_next_value":            dbNextValue,
		"addr_validate":            addrValidate,
		"addr_canonicalize":        addrCanonicalize,
		"addr_humanize":            addrHumanize,
		"secp256k1_verify":         secp256k1VerifyImport,
		"secp256k1_recover_pubkey": secp256k1RecoverImport,
		"ed25519_verify":           ed25519VerifyImport,
		"ed25519_batch_verify":     ed25519BatchVerifyImport,
		"debug":                    debugImport,
		"query_chain":              queryChain,
		"abort":                    abortImport,
	}

	builder := r.NewHostModuleBuilder("env")
	for name, fn := range imports {
		builder.NewFunctionBuilder().WithFunc(fn).Export(name)
	}
	if _, err := builder.Instantiate(ctx); err != nil {
		return fmt.Errorf("failed to instantiate host module: %w", err)
	}
	return nil
}

//---------- Storage ---------

func dbRead(ctx context.Context, m api.Module, keyPtr uint32) uint32 {
	env := envFrom(ctx)
	key := env.read(m, keyPtr, maxKeyLen)
	value, ok, err := env.host.Get(ctx, key)
	if err != nil {
		env.fail(err)
	}
	if !ok {
		return 0
	}
	return env.alloc(ctx, m, value)
}

func dbWrite(ctx context.Context, m api.Module, keyPtr, valuePtr uint32) {
	env := envFrom(ctx)
	key := env.read(m, keyPtr, maxKeyLen)
	value := env.read(m, valuePtr, maxValueLen)
	if err := env.host.Set(ctx, key, value); err != nil {
		env.fail(err)
	}
}

func dbRemove(ctx context.Context, m api.Module, keyPtr uint32) {
	env := envFrom(ctx)
	key := env.read(m, keyPtr, maxKeyLen)
	if err := env.host.Remove(ctx, key); err != nil {
		env.fail(err)
	}
}

func dbScan(ctx context.Context, m api.Module, startPtr, endPtr uint32, order int32) uint32 {
	env := envFrom(ctx)
	var start, end []byte
	if startPtr != 0 {
		start = env.read(m, startPtr, maxKeyLen)
	}
	if endPtr != 0 {
		end = env.read(m, endPtr, maxKeyLen)
	}
	if order != OrderAscending && order != OrderDescending {
		env.fail(fmt.Errorf("%w: invalid iteration order %d", ErrTrap, order))
	}

	kvs, err := env.host.Scan(ctx, start, end, order)
	if err != nil {
		env.fail(err)
	}
	env.iterators = append(env.iterators, &iterator{kvs: kvs})
	return uint32(len(env.iterators))
}

func (e *hostEnv) next(id uint32) (models.KV, bool) {
	if id == 0 || int(id) > len(e.iterators) {
		e.fail(fmt.Errorf("%w: unknown iterator %d", ErrTrap, id))
	}
	it := e.iterators[id-1]
	if it.pos >= len(it.kvs) {
		return models.KV{}, false
	}
	kv := it.kvs[it.pos]
	it.pos++
	return kv, true
}

func dbNext(ctx context.Context, m api.Module, id uint32) uint32 {
	env := envFrom(ctx)
	kv, ok := env.next(id)
	if !ok {
		return env.alloc(ctx, m, encodeSections(nil, nil))
	}
	return env.alloc(ctx, m, encodeSections(kv.Key, kv.Value))
}

func dbNextKey(ctx context.Context, m api.Module, id uint32) uint32 {
	env := envFrom(ctx)
	kv, ok := env.next(id)
	if !ok {
		return 0
	}
	return env.alloc(ctx, m, kv.Key)
}

func dbNextValue(ctx context.Context, m api.Module, id uint32) uint32 {
	env := envFrom(ctx)
	kv, ok := env.next(id)
	if !ok {
		return 0
	}
	return env.alloc(ctx, m, kv.Value)
}

//---------- Addresses ---------

func addrValidate(ctx context.Context, m api.Module, srcPtr uint32) uint32 {
	env := envFrom(ctx)
	addr := env.read(m, srcPtr, maxAddressLen)
	if err := env.host.AddrValidate(string(addr)); err != nil {
		return env.errorRegion(ctx, m, err.Error())
	}
	return 0
}

func addrCanonicalize(ctx context.Context, m api.Module, srcPtr, dstPtr uint32) uint32 {
	env := envFrom(ctx)
	addr := env.read(m, srcPtr, maxAddressLen)
	canonical, err := env.host.AddrCanonicalize(string(addr))
	if err != nil {
		return env.errorRegion(ctx, m, err.Error())
	}
	if err := writeRegion(m.Memory(), dstPtr, canonical); err != nil {
		env.fail(err)
	}
	return 0
}

func addrHumanize(ctx context.Context, m api.Module, srcPtr, dstPtr uint32) uint32 {
	env := envFrom(ctx)
	canonical := env.read(m, srcPtr, maxAddressLen)
	human, err := env.host.AddrHumanize(canonical)
	if err != nil {
		return env.errorRegion(ctx, m, err.Error())
	}
	if err := writeRegion(m.Memory(), dstPtr, []byte(human)); err != nil {
		env.fail(err)
	}
	return 0
}

//---------- Crypto ---------

func secp256k1VerifyImport(ctx context.Context, m api.Module, hashPtr, sigPtr, pubkeyPtr uint32) uint32 {
	env := envFrom(ctx)
	return secp256k1Verify(
		env.read(m, hashPtr, maxCryptoLen),
		env.read(m, sigPtr, maxCryptoLen),
		env.read(m, pubkeyPtr, maxCryptoLen),
	)
}

// secp256k1RecoverImport returns code<<32 | region pointer
func secp256k1RecoverImport(ctx context.Context, m api.Module, hashPtr, sigPtr, recoveryParam uint32) uint64 {
	env := envFrom(ctx)
	pubkey, code := secp256k1Recover(
		env.read(m, hashPtr, maxCryptoLen),
		env.read(m, sigPtr, maxCryptoLen),
		recoveryParam,
	)
	if code != cryptoValid {
		return uint64(code) << 32
	}
	return uint64(env.alloc(ctx, m, pubkey))
}

func ed25519VerifyImport(ctx context.Context, m api.Module, msgPtr, sigPtr, pubkeyPtr uint32) uint32 {
	env := envFrom(ctx)
	return ed25519Verify(
		env.read(m, msgPtr, maxCryptoLen),
		env.read(m, sigPtr, maxCryptoLen),
		env.read(m, pubkeyPtr, maxCryptoLen),
	)
}

func ed25519BatchVerifyImport(ctx context.Context, m api.Module, msgsPtr, sigsPtr, pubkeysPtr uint32) uint32 {
	env := envFrom(ctx)
	msgs, err1 := decodeSections(env.read(m, msgsPtr, maxCryptoLen))
	sigs, err2 := decodeSections(env.read(m, sigsPtr, maxCryptoLen))
	pubkeys, err3 := decodeSections(env.read(m, pubkeysPtr, maxCryptoLen))
	if err1 != nil || err2 != nil || err3 != nil {
		return cryptoGeneric
	}
	return ed25519BatchVerify(msgs, sigs, pubkeys)
}

//---------- Other ---------

func debugImport(ctx context.Context, m api.Module, msgPtr uint32) {
	env := envFrom(ctx)
	env.host.Debug(string(env.read(m, msgPtr, maxDebugLen)))
}

func queryChain(ctx context.Context, m api.Module, requestPtr uint32) uint32 {
	env := envFrom(ctx)
	request := env.read(m, requestPtr, maxQueryLen)
	response, err := env.host.QueryChain(ctx, request)
	if err != nil {
		env.fail(err)
	}
	return env.alloc(ctx, m, response)
}

func abortImport(ctx context.Context, m api.Module, msgPtr uint32) {
	env := envFrom(ctx)
	msg := env.read(m, msgPtr, maxAbortLen)
	env.fail(fmt.Errorf("%w: abort: %s", ErrTrap, msg))
}

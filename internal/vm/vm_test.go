package vm

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cwfork/internal/models"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSections_RoundTrip(t *testing.T) {
	encoded := encodeSections([]byte("key"), []byte{}, []byte("value"))
	assert.Equal(t, 3+4+0+4+5+4, len(encoded))

	sections, err := decodeSections(encoded)
	require.NoError(t, err)
	require.Len(t, sections, 3)
	assert.Equal(t, "key", string(sections[0]))
	assert.Empty(t, sections[1])
	assert.Equal(t, "value", string(sections[2]))

	_, err = decodeSections([]byte{0, 0, 9})
	assert.Error(t, err)
	_, err = decodeSections([]byte{1, 0, 0, 0, 9})
	assert.Error(t, err)
}

func TestSecp256k1(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	hash := sha256.Sum256([]byte("cwfork"))

	compact := ecdsa.SignCompact(priv, hash[:], false)
	sig := compact[1:]
	recovery := uint32(compact[0] - 27)

	pub := priv.PubKey()
	assert.Equal(t, cryptoValid, secp256k1Verify(hash[:], sig, pub.SerializeCompressed()))
	assert.Equal(t, cryptoValid, secp256k1Verify(hash[:], sig, pub.SerializeUncompressed()))

	other := sha256.Sum256([]byte("other"))
	assert.Equal(t, cryptoInvalid, secp256k1Verify(other[:], sig, pub.SerializeCompressed()))
	assert.Equal(t, cryptoInvalidHash, secp256k1Verify(hash[:31], sig, pub.SerializeCompressed()))
	assert.Equal(t, cryptoInvalidSignature, secp256k1Verify(hash[:], sig[:63], pub.SerializeCompressed()))
	assert.Equal(t, cryptoInvalidPubkey, secp256k1Verify(hash[:], sig, []byte{0x02, 0x01}))

	recovered, code := secp256k1Recover(hash[:], sig, recovery)
	require.Equal(t, cryptoValid, code)
	assert.Equal(t, pub.SerializeUncompressed(), recovered)

	_, code = secp256k1Recover(hash[:], sig, 2)
	assert.Equal(t, cryptoInvalidSignature, code)
}

func TestEd25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	msg := []byte("hello")
	sig := ed25519.Sign(priv, msg)

	assert.Equal(t, cryptoValid, ed25519Verify(msg, sig, pub))
	assert.Equal(t, cryptoInvalid, ed25519Verify([]byte("bye"), sig, pub))
	assert.Equal(t, cryptoInvalidPubkey, ed25519Verify(msg, sig, pub[:5]))

	msg2 := []byte("world")
	sig2 := ed25519.Sign(priv, msg2)

	tests := []struct {
		name    string
		msgs    [][]byte
		sigs    [][]byte
		pubkeys [][]byte
		want    uint32
	}{
		{"pairwise", [][]byte{msg, msg2}, [][]byte{sig, sig2}, [][]byte{pub, pub}, cryptoValid},
		{"single key", [][]byte{msg, msg2}, [][]byte{sig, sig2}, [][]byte{pub}, cryptoValid},
		{"one bad signature", [][]byte{msg, msg2}, [][]byte{sig, sig}, [][]byte{pub}, cryptoInvalid},
		{"mismatch", [][]byte{msg, msg2, msg}, [][]byte{sig, sig2}, [][]byte{pub}, cryptoBatchMismatch},
		{"empty", nil, nil, nil, cryptoValid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ed25519BatchVerify(tt.msgs, tt.sigs, tt.pubkeys))
		})
	}
}

func TestWazeroVM_RejectsInvalidCode(t *testing.T) {
	ctx := context.Background()
	v, err := NewWazeroVM(ctx, 4)
	require.NoError(t, err)
	defer v.Close(ctx)

	err = v.Validate(ctx, []byte("not wasm"))
	assert.ErrorIs(t, err, ErrInvalidCode)

	// A valid but empty module lacks the contract exports
	empty := []byte("\x00asm\x01\x00\x00\x00")
	err = v.Validate(ctx, empty)
	assert.ErrorIs(t, err, ErrInvalidCode)
	assert.Contains(t, err.Error(), "allocate")

	_, err = v.Load(ctx, empty, nil)
	assert.ErrorIs(t, err, ErrInvalidCode)
}

var errReadOnly = errors.New("read only")

// mapHost keeps contract storage in a map
type mapHost struct {
	store    map[string][]byte
	readOnly bool
}

func (h *mapHost) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	v, ok := h.store[string(key)]
	return v, ok, nil
}

func (h *mapHost) Set(_ context.Context, key, value []byte) error {
	if h.readOnly {
		return errReadOnly
	}
	h.store[string(key)] = append([]byte(nil), value...)
	return nil
}

func (h *mapHost) Remove(_ context.Context, key []byte) error {
	if h.readOnly {
		return errReadOnly
	}
	delete(h.store, string(key))
	return nil
}

func (h *mapHost) Scan(context.Context, []byte, []byte, int32) ([]models.KV, error) {
	return nil, nil
}

func (h *mapHost) QueryChain(context.Context, []byte) ([]byte, error) { return nil, nil }
func (h *mapHost) AddrValidate(string) error { return nil }
func (h *mapHost) AddrCanonicalize(addr string) ([]byte, error) { return []byte(addr), nil }
func (h *mapHost) AddrHumanize(canonical []byte) (string, error) { return string(canonical), nil }
func (h *mapHost) Debug(string) {}

func loadKV(t *testing.T) []byte {
	t.Helper()
	code, err := os.ReadFile(filepath.Join("vmtest", "testdata", "kv.wasm"))
	require.NoError(t, err)
	return code
}

func TestWazeroVM_RunsContract(t *testing.T) {
	ctx := context.Background()
	v, err := NewWazeroVM(ctx, 4)
	require.NoError(t, err)
	defer v.Close(ctx)

	code := loadKV(t)
	require.NoError(t, v.Validate(ctx, code))

	host := &mapHost{store: map[string][]byte{}}
	inst, err := v.Load(ctx, code, host)
	require.NoError(t, err)
	defer inst.Close(ctx)

	out, err := inst.Instantiate(ctx, []byte(`{}`), []byte(`{}`), []byte(`{}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":{"messages":[],"attributes":[],"events":[]}}`, string(out))
	assert.Equal(t, "orig", string(host.store["k"]))

	// db_read hands back a region allocated in the guest, which db_write reads again
	_, err = inst.Execute(ctx, []byte(`{}`), []byte(`{}`), []byte(`{"set":"v"}`))
	require.NoError(t, err)
	assert.Equal(t, "orig", string(host.store["prev"]))
	assert.Equal(t, `{"set":"v"}`, string(host.store["k"]))

	out, err = inst.Query(ctx, []byte(`{}`), []byte(`"r"`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":"b2s="}`, string(out))

	cov, err := inst.Coverage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cov", string(cov))
}

func TestWazeroVM_HostErrorAbortsCall(t *testing.T) {
	ctx := context.Background()
	v, err := NewWazeroVM(ctx, 4)
	require.NoError(t, err)
	defer v.Close(ctx)

	host := &mapHost{store: map[string][]byte{"k": []byte("orig")}, readOnly: true}
	inst, err := v.Load(ctx, loadKV(t), host)
	require.NoError(t, err)
	defer inst.Close(ctx)

	_, err = inst.Query(ctx, []byte(`{}`), []byte(`"w"`))
	require.Error(t, err)
	assert.ErrorIs(t, err, errReadOnly)
	assert.NotErrorIs(t, err, ErrTrap)
	assert.Equal(t, "orig", string(host.store["k"]))
}

func TestWazeroVM_CachesCompiledModules(t *testing.T) {
	ctx := context.Background()
	v, err := NewWazeroVM(ctx, 1)
	require.NoError(t, err)
	defer v.Close(ctx)

	code := loadKV(t)
	first, err := v.compile(ctx, code)
	require.NoError(t, err)
	second, err := v.compile(ctx, code)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, v.cache.Len())

	// A second module evicts the first from a single entry cache
	other := append([]byte(nil), code...)
	other[len(other)-1] = 'x'
	_, err = v.compile(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, 1, v.cache.Len())
	assert.False(t, v.cache.Contains(sha256.Sum256(code)))
}

package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContractAddress_Deterministic(t *testing.T) {
	creator := AccountAddress("wasm", "creator")

	a1, err := ContractAddress("wasm", 7, 1, creator)
	require.NoError(t, err)
	a2, err := ContractAddress("wasm", 7, 1, creator)
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
	assert.True(t, strings.HasPrefix(a1, "wasm1"))

	other, err := ContractAddress("wasm", 7, 2, creator)
	require.NoError(t, err)
	assert.NotEqual(t, a1, other, "sequence must change the address")

	byCode, err := ContractAddress("wasm", 8, 1, creator)
	require.NoError(t, err)
	assert.NotEqual(t, a1, byCode, "code id must change the address")

	require.NoError(t, ValidateAddress("wasm", a1))
	_, canonical, err := Bech32Decode(a1)
	require.NoError(t, err)
	assert.Len(t, canonical, 32)
}

func TestValidateAddress(t *testing.T) {
	good := AccountAddress("wasm", "alice")

	tests := []struct {
		name    string
		prefix  string
		addr    string
		wantErr bool
	}{
		{"valid", "wasm", good, false},
		{"wrong prefix", "osmo", good, true},
		{"upper case", "wasm", strings.ToUpper(good), true},
		{"empty", "wasm", "", true},
		{"garbage", "wasm", "not-an-address", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.prefix, tt.addr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBech32RoundTrip(t *testing.T) {
	canonical := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}
	addr, err := Bech32Encode("juno", canonical)
	require.NoError(t, err)

	prefix, decoded, err := Bech32Decode(addr)
	require.NoError(t, err)
	assert.Equal(t, "juno", prefix)
	assert.Equal(t, canonical, decoded)
}

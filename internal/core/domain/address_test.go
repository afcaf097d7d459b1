package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const checksummed = "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"

func TestCanonicalAddress(t *testing.T) {
	tests := []struct {
		name    string
		chain   Chain
		address string
		want    string
	}{
		{"eth checksummed", ChainETH, checksummed, checksummed},
		{"eth lowercase", ChainETH, "0x9858effd232b4033e47d90003d41ec34ecaeda94", checksummed},
		{"eth uppercase", ChainETH, "0X9858EFFD232B4033E47D90003D41EC34ECAEDA94", checksummed},
		{"eth padded", ChainETH, "  " + checksummed + "\n", checksummed},
		{"aptos mixed case", ChainAptos, "0xABCdef", "0xabcdef"},
		{"aptos special", ChainAptos, "0x1", "0x1"},
		{"sol kept", ChainSOL, " 7EcDhSYGxXyscszYEp35KHN8vvw3svAuLKTzXwCFLtV ", "7EcDhSYGxXyscszYEp35KHN8vvw3svAuLKTzXwCFLtV"},
		{"unknown chain", Chain("BTC"), "bc1qAbC", "bc1qAbC"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalAddress(tt.chain, tt.address)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalAddress_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		chain   Chain
		address string
	}{
		{"empty", ChainSOL, "  "},
		{"eth too short", ChainETH, "0xaaa"},
		{"eth not hex", ChainETH, "0xgenerated"},
		{"eth base58", ChainETH, "So1ana"},
		{"aptos no prefix", ChainAptos, "abcdef"},
		{"aptos bare prefix", ChainAptos, "0x"},
		{"aptos too long", ChainAptos, "0x" + strings.Repeat("a", 65)},
		{"aptos path", ChainAptos, "0x1/../../x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CanonicalAddress(tt.chain, tt.address)
			assert.True(t, errors.Is(err, ErrInvalidInput), "got %v", err)
		})
	}
}

func TestNormalizeAddress_AgreesWithCanonical(t *testing.T) {
	assert.Equal(t, checksummed, NormalizeAddress("0x9858effd232b4033e47d90003d41ec34ecaeda94"))
	assert.Equal(t, "0xabcdef", NormalizeAddress("0xABCDEF"))
	assert.Equal(t, "So1ana", NormalizeAddress(" So1ana "))
	assert.Equal(t, "0xnot-hex", NormalizeAddress("0xnot-hex"))

	// bare hex without a prefix could be base58 and is left alone
	assert.Equal(t, "9858effd232b4033e47d90003d41ec34ecaeda94", NormalizeAddress("9858effd232b4033e47d90003d41ec34ecaeda94"))

	assert.Nil(t, NormalizeAddresses(nil))
	assert.Equal(t, []string{checksummed, "So1"}, NormalizeAddresses([]string{"0x9858EFFD232B4033E47D90003D41EC34ECAEDA94", "So1"}))
}

func TestWalletFilter_Normalized(t *testing.T) {
	w := &Wallet{Chain: ChainETH, Address: checksummed}
	f := WalletFilter{Addresses: []string{"0x9858effd232b4033e47d90003d41ec34ecaeda94"}}

	assert.False(t, f.Matches(w))
	assert.True(t, f.Normalized().Matches(w))
	assert.Equal(t, "0x9858effd232b4033e47d90003d41ec34ecaeda94", f.Addresses[0], "the receiver is not modified")
}

package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// maxAptosHexLen is the hex length of a full 32-byte Aptos account address.
const maxAptosHexLen = 64

// CanonicalAddress returns the form address is stored under on chain. ETH addresses
// must be 20-byte hex and take their EIP-55 checksum form; APTOS addresses must be
// 0x-prefixed hex. Addresses of other chains are trimmed and otherwise kept as given,
// since base58 encodings are case-sensitive.
func CanonicalAddress(chain Chain, address string) (string, error) {
	a := strings.TrimSpace(address)
	if a == "" {
		return "", fmt.Errorf("%w: address is required", ErrInvalidInput)
	}
	switch chain {
	case ChainETH:
		if !common.IsHexAddress(a) {
			return "", fmt.Errorf("%w: %q is not an ETH address", ErrInvalidInput, a)
		}
	case ChainAptos:
		digits, ok := trimHexPrefix(a)
		if !ok || digits == "" || len(digits) > maxAptosHexLen || !isHex(digits) {
			return "", fmt.Errorf("%w: %q is not an APTOS address", ErrInvalidInput, a)
		}
	}
	return NormalizeAddress(a), nil
}

// NormalizeAddress canonicalises an address whose chain is unknown, as in lookups.
// It agrees with CanonicalAddress for every chain: 20-byte hex gets the EIP-55
// checksum, other 0x hex is lowercased and anything else is returned trimmed.
func NormalizeAddress(address string) string {
	a := strings.TrimSpace(address)
	digits, ok := trimHexPrefix(a)
	if !ok || digits == "" || !isHex(digits) {
		return a
	}
	if common.IsHexAddress(a) {
		return common.HexToAddress(a).Hex()
	}
	return "0x" + strings.ToLower(digits)
}

// NormalizeAddresses applies NormalizeAddress to each entry, returning nil for nil.
func NormalizeAddresses(addresses []string) []string {
	if addresses == nil {
		return nil
	}
	out := make([]string, len(addresses))
	for i, a := range addresses {
		out[i] = NormalizeAddress(a)
	}
	return out
}

func trimHexPrefix(s string) (string, bool) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:], true
	}
	return s, false
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

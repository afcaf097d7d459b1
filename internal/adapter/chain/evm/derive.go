package evm

import (
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// Default account path m/44'/60'/0'/0/0.
var derivationPath = []uint32{
	bip32.FirstHardenedChild + 44,
	bip32.FirstHardenedChild + 60,
	bip32.FirstHardenedChild + 0,
	0,
	0,
}

// freshEntropyBits gives a 12-word mnemonic.
const freshEntropyBits = 128

// NewMnemonic generates a fresh 12-word phrase.
func NewMnemonic() ([]string, error) {
	entropy, err := bip39.NewEntropy(freshEntropyBits)
	if err != nil {
		return nil, fmt.Errorf("generate entropy: %w", err)
	}
	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, fmt.Errorf("encode mnemonic: %w", err)
	}
	return strings.Fields(phrase), nil
}

// DeriveKey derives the account private key and checksummed address for words with an
// empty passphrase. Checksum validity of words is the caller's policy.
func DeriveKey(words []string) (priv []byte, address string, err error) {
	seed := bip39.NewSeed(strings.Join(words, " "), "")

	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, "", fmt.Errorf("master key: %w", err)
	}
	for _, idx := range derivationPath {
		if key, err = key.NewChildKey(idx); err != nil {
			return nil, "", fmt.Errorf("derive child %d: %w", idx, err)
		}
	}

	priv = fixedKey(key.Key)
	return priv, AddressFromPrivateKey(priv), nil
}

// AddressFromPrivateKey returns the EIP-55 address of a secp256k1 private key.
func AddressFromPrivateKey(priv []byte) string {
	pub := secp256k1.PrivKeyFromBytes(priv).PubKey().ToECDSA()
	return crypto.PubkeyToAddress(*pub).Hex()
}

// fixedKey left-pads bip32 key bytes to 32 and drops a leading zero pad byte.
func fixedKey(raw []byte) []byte {
	if len(raw) == 33 && raw[0] == 0 {
		raw = raw[1:]
	}
	out := make([]byte, 32)
	copy(out[32-len(raw):], raw)
	return out
}

package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// WalletRecord is the wire shape of one wallet in a batch import file.
// Field names match the exports of earlier wallet tooling (balance, ens_name, nft_data).
type WalletRecord struct {
	Chain         string                     `json:"chain"`
	Address       string                     `json:"address"`
	PrivateKey    json.RawMessage            `json:"private_key"`
	Mnemonic      json.RawMessage            `json:"mnemonic"`
	Balance       *decimal.Decimal           `json:"balance"`
	TokenBalances map[string]decimal.Decimal `json:"token_balances"`
	ENSName       *string                    `json:"ens_name"`
	NFTData       json.RawMessage            `json:"nft_data"`
}

// ParseWalletRecord decodes one import record into a Wallet. Any decoding problem returns
// an ErrInvalidInput-wrapped error and no wallet, so callers can skip the record whole.
func ParseWalletRecord(raw json.RawMessage) (*Wallet, error) {
	var rec WalletRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return rec.ToWallet()
}

// ToWallet validates the record and converts it.
func (r WalletRecord) ToWallet() (*Wallet, error) {
	if strings.TrimSpace(r.Address) == "" {
		return nil, fmt.Errorf("%w: address is required", ErrInvalidInput)
	}
	chain := Chain(strings.ToUpper(strings.TrimSpace(r.Chain)))
	if chain == "" {
		return nil, fmt.Errorf("%w: chain is required", ErrInvalidInput)
	}
	address, err := CanonicalAddress(chain, r.Address)
	if err != nil {
		return nil, err
	}

	w := &Wallet{
		Chain:         chain,
		Address:       address,
		NativeBalance: r.Balance,
		TokenBalances: r.TokenBalances,
	}

	pk, err := ParseSecret(r.PrivateKey)
	if err != nil {
		return nil, err
	}
	w.PrivateKey = pk

	words, err := parseMnemonicField(r.Mnemonic)
	if err != nil {
		return nil, err
	}
	w.Mnemonic = words

	if r.ENSName != nil && *r.ENSName != "" {
		name := *r.ENSName
		w.NameBinding = &name
	}

	meta, err := parseNFTData(r.NFTData)
	if err != nil {
		return nil, err
	}
	w.Metadata = meta

	return w, nil
}

// parseMnemonicField accepts a space-separated string, a list of words, or null.
func parseMnemonicField(raw json.RawMessage) ([]string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var words []string
		if err := json.Unmarshal(raw, &words); err != nil {
			return nil, fmt.Errorf("%w: mnemonic list: %v", ErrInvalidInput, err)
		}
		if len(words) == 0 {
			return nil, nil
		}
		return words, nil
	}
	var phrase string
	if err := json.Unmarshal(raw, &phrase); err != nil {
		return nil, fmt.Errorf("%w: mnemonic: %v", ErrInvalidInput, err)
	}
	words := strings.Fields(phrase)
	if len(words) == 0 {
		return nil, nil
	}
	return words, nil
}

// parseNFTData accepts a bare count (stored as nft_count) or an object merged as-is.
func parseNFTData(raw json.RawMessage) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "{") {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: nft_data: %v", ErrInvalidInput, err)
		}
		return m, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("%w: nft_data: %v", ErrInvalidInput, err)
	}
	count, err := n.Int64()
	if err != nil {
		return nil, fmt.Errorf("%w: nft_data: %v", ErrInvalidInput, err)
	}
	return map[string]any{MetaNFTCount: count}, nil
}

// Metadata keys written by the adapters.
const (
	MetaNFTCount       = "nft_count"
	MetaTxCount        = "tx_count"
	MetaTokenAccounts  = "token_accounts"
	MetaSequenceNumber = "sequence_number"
)

// DecodeMetadata decodes a stored metadata object, restoring integral numbers as int64
// and other numbers as float64 so values round-trip to what the adapters wrote.
func DecodeMetadata(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	for k, v := range m {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		if i, err := n.Int64(); err == nil {
			m[k] = i
		} else if f, err := n.Float64(); err == nil {
			m[k] = f
		}
	}
	return m, nil
}

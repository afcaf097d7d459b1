package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Chain identifies the blockchain a wallet lives on.
type Chain string

const (
	ChainETH   Chain = "ETH"
	ChainSOL   Chain = "SOL"
	ChainAptos Chain = "APTOS"
)

// KnownChains lists the chains the reconciler ships adapters for, in display order.
var KnownChains = []Chain{ChainETH, ChainSOL, ChainAptos}

// ParseChain normalises a user-supplied chain tag. ok is false for tags no adapter serves;
// such tags are still valid on stored records (forward compatibility).
func ParseChain(s string) (Chain, bool) {
	c := Chain(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range KnownChains {
		if c == known {
			return c, true
		}
	}
	return c, false
}

// Wallet is the canonical, address-keyed record kept by the store.
//
// Pointer and map fields follow one rule: nil means "no data", which an upsert never
// writes over a stored value. An empty TokenBalances map is a confirmed "no tokens".
type Wallet struct {
	Chain         Chain                      `json:"chain"`
	Address       string                     `json:"address"`
	PrivateKey    *Secret                    `json:"-"` // Opaque, interpreted by the producing adapter only
	Mnemonic      []string                   `json:"-"`
	NativeBalance *decimal.Decimal           `json:"native_balance,omitempty"`
	TokenBalances map[string]decimal.Decimal `json:"token_balances,omitempty"`
	NameBinding   *string                    `json:"name_binding,omitempty"`
	Metadata      map[string]any             `json:"metadata,omitempty"`
	LastChecked   *time.Time                 `json:"last_checked,omitempty"`
}

// MnemonicPhrase joins the mnemonic words, or returns "" when the wallet has none.
func (w *Wallet) MnemonicPhrase() string {
	return strings.Join(w.Mnemonic, " ")
}

// Clone returns a deep copy safe to mutate independently of w.
func (w *Wallet) Clone() *Wallet {
	out := *w
	if w.PrivateKey != nil {
		pk := w.PrivateKey.Clone()
		out.PrivateKey = &pk
	}
	if w.Mnemonic != nil {
		out.Mnemonic = append([]string(nil), w.Mnemonic...)
	}
	if w.NativeBalance != nil {
		b := *w.NativeBalance
		out.NativeBalance = &b
	}
	if w.TokenBalances != nil {
		out.TokenBalances = make(map[string]decimal.Decimal, len(w.TokenBalances))
		for k, v := range w.TokenBalances {
			out.TokenBalances[k] = v
		}
	}
	if w.NameBinding != nil {
		n := *w.NameBinding
		out.NameBinding = &n
	}
	if w.Metadata != nil {
		out.Metadata = make(map[string]any, len(w.Metadata))
		for k, v := range w.Metadata {
			out.Metadata[k] = v
		}
	}
	if w.LastChecked != nil {
		t := *w.LastChecked
		out.LastChecked = &t
	}
	return &out
}

// MergeFrom applies the fields incoming carries onto w. Absent (nil) fields leave w
// untouched; token and metadata maps merge key by key. The chain and address of w are
// never changed; callers check for a chain mismatch before merging.
func (w *Wallet) MergeFrom(incoming *Wallet) {
	if incoming.PrivateKey != nil {
		pk := incoming.PrivateKey.Clone()
		w.PrivateKey = &pk
	}
	if incoming.Mnemonic != nil {
		w.Mnemonic = append([]string(nil), incoming.Mnemonic...)
	}
	if incoming.NativeBalance != nil {
		b := *incoming.NativeBalance
		w.NativeBalance = &b
	}
	if incoming.TokenBalances != nil {
		if w.TokenBalances == nil {
			w.TokenBalances = make(map[string]decimal.Decimal, len(incoming.TokenBalances))
		}
		for k, v := range incoming.TokenBalances {
			w.TokenBalances[k] = v
		}
	}
	if incoming.NameBinding != nil {
		n := *incoming.NameBinding
		w.NameBinding = &n
	}
	if incoming.Metadata != nil {
		if w.Metadata == nil {
			w.Metadata = make(map[string]any, len(incoming.Metadata))
		}
		for k, v := range incoming.Metadata {
			w.Metadata[k] = v
		}
	}
	if incoming.LastChecked != nil {
		t := *incoming.LastChecked
		w.LastChecked = &t
	}
}

// WalletFilter narrows store listings. Zero value matches everything.
type WalletFilter struct {
	Chain     Chain
	Addresses []string
}

// Matches reports whether w passes the filter.
func (f WalletFilter) Matches(w *Wallet) bool {
	if f.Chain != "" && w.Chain != f.Chain {
		return false
	}
	if len(f.Addresses) == 0 {
		return true
	}
	for _, a := range f.Addresses {
		if a == w.Address {
			return true
		}
	}
	return false
}

// Normalized returns a copy of f with its addresses in canonical form.
func (f WalletFilter) Normalized() WalletFilter {
	f.Addresses = NormalizeAddresses(f.Addresses)
	return f
}

package dto

import (
	"strings"
	"time"

	"wallet-reconciler/internal/core/domain"
	"wallet-reconciler/internal/core/ports"
)

// TokenRequest exchanges an operator key for a bearer token.
type TokenRequest struct {
	Operator string `json:"operator" binding:"required,min=1,max=64,safe_id"`
	Key      string `json:"key" binding:"required,min=8,max=256"`
}

// TokenResponse carries the issued token.
type TokenResponse struct {
	Token  string `json:"token"`
	Expiry int64  `json:"expiry"` // Unix timestamp
}

// CorrectRequest is the body for mnemonic correction.
type CorrectRequest struct {
	Phrase string `json:"phrase" binding:"required,max=1024"`
}

// WordCorrection is one replaced token.
type WordCorrection struct {
	Position    int    `json:"position"`
	Original    string `json:"original"`
	Replacement string `json:"replacement"`
	Distance    int    `json:"distance"`
}

// CorrectResponse reports the corrected phrase. The submitted phrase is not echoed.
type CorrectResponse struct {
	Corrected     string           `json:"corrected"`
	Words         []WordCorrection `json:"words"`
	WordCount     int              `json:"word_count"`
	ChecksumValid bool             `json:"checksum_valid"`
}

// NewCorrectResponse maps a correction report.
func NewCorrectResponse(r ports.CorrectionReport) CorrectResponse {
	resp := CorrectResponse{
		Corrected:     r.Corrected,
		Words:         make([]WordCorrection, 0, len(r.Words)),
		ChecksumValid: r.ChecksumValid,
	}
	if r.Corrected != "" {
		resp.WordCount = len(strings.Fields(r.Corrected))
	}
	for _, w := range r.Words {
		resp.Words = append(resp.Words, WordCorrection(w))
	}
	return resp
}

// GenerateWalletRequest is the body for wallet generation. An empty mnemonic asks for
// fresh key material.
type GenerateWalletRequest struct {
	Chain    string `json:"chain" binding:"required,chain"`
	Mnemonic string `json:"mnemonic" binding:"max=1024"`
}

// ReconcileRequest selects the wallets to refresh. Both fields empty means every wallet.
type ReconcileRequest struct {
	Chain     string   `json:"chain" binding:"omitempty,chain"`
	Addresses []string `json:"addresses" binding:"max=1000,dive,required,max=128"`
}

// Filter converts the request to a store filter.
func (r ReconcileRequest) Filter() domain.WalletFilter {
	f := domain.WalletFilter{Addresses: r.Addresses}
	if r.Chain != "" {
		f.Chain, _ = domain.ParseChain(r.Chain)
	}
	return f
}

// ListWalletsQuery is the query string for listing and exports.
type ListWalletsQuery struct {
	Chain     string   `form:"chain" binding:"omitempty,chain"`
	Addresses []string `form:"address" binding:"max=1000"`
}

// Filter converts the query to a store filter.
func (q ListWalletsQuery) Filter() domain.WalletFilter {
	f := domain.WalletFilter{Addresses: q.Addresses}
	if q.Chain != "" {
		f.Chain, _ = domain.ParseChain(q.Chain)
	}
	return f
}

// WalletResponse is the public view of a wallet. Key material is never included; the
// Has* flags tell the operator whether the store holds it.
type WalletResponse struct {
	Chain         string            `json:"chain"`
	Address       string            `json:"address"`
	NativeBalance *string           `json:"native_balance"`
	TokenBalances map[string]string `json:"token_balances,omitempty"`
	NameBinding   *string           `json:"name_binding"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
	LastChecked   *time.Time        `json:"last_checked"`
	HasPrivateKey bool              `json:"has_private_key"`
	HasMnemonic   bool              `json:"has_mnemonic"`
}

// NewWalletResponse maps a domain wallet.
func NewWalletResponse(w *domain.Wallet) WalletResponse {
	resp := WalletResponse{
		Chain:         string(w.Chain),
		Address:       w.Address,
		NameBinding:   w.NameBinding,
		Metadata:      w.Metadata,
		LastChecked:   w.LastChecked,
		HasPrivateKey: w.PrivateKey != nil,
		HasMnemonic:   len(w.Mnemonic) > 0,
	}
	if w.NativeBalance != nil {
		s := w.NativeBalance.String()
		resp.NativeBalance = &s
	}
	if w.TokenBalances != nil {
		resp.TokenBalances = make(map[string]string, len(w.TokenBalances))
		for k, v := range w.TokenBalances {
			resp.TokenBalances[k] = v.String()
		}
	}
	return resp
}

// NewWalletListResponse maps a slice of wallets.
func NewWalletListResponse(wallets []domain.Wallet) WalletListResponse {
	out := WalletListResponse{Wallets: make([]WalletResponse, 0, len(wallets))}
	for i := range wallets {
		out.Wallets = append(out.Wallets, NewWalletResponse(&wallets[i]))
	}
	out.Count = len(out.Wallets)
	return out
}

// WalletListResponse wraps a list of wallets.
type WalletListResponse struct {
	Wallets []WalletResponse `json:"wallets"`
	Count   int              `json:"count"`
}

// GeneratedWalletResponse is returned once, at generation time. It is the only response
// that carries the mnemonic, so the operator can back it up.
type GeneratedWalletResponse struct {
	WalletResponse
	Mnemonic string `json:"mnemonic,omitempty"`
}

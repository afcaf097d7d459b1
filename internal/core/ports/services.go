package ports

//go:generate mockgen -source=services.go -destination=mocks/services_mock.go -package=mocks

import (
	"context"
	"io"
	"time"

	"wallet-reconciler/internal/core/domain"
)

// ChainAdapter is the single consumer of one chain's network protocol.
//
// Adapters never panic and never retry: a network or RPC failure comes back as a failed
// domain.Result wrapping domain.ErrChainUnavailable. Retry policy belongs to callers.
type ChainAdapter interface {
	Chain() domain.Chain
	// Derive builds a wallet from mnemonic, or from fresh key material when mnemonic is nil.
	// Chains without a mnemonic derivation path return domain.ErrUnsupportedOperation.
	Derive(ctx context.Context, mnemonic []string) (*domain.Wallet, error)
	QueryBalance(ctx context.Context, address string) domain.Result[domain.BalanceInfo]
	// ResolveName returns "" with no error when the address has no binding.
	ResolveName(ctx context.Context, address string) domain.Result[string]
	FetchMetadata(ctx context.Context, address string) domain.Result[map[string]any]
}

// IdentityPool hands out an outbound identity (proxy URL) per request: one, or none.
type IdentityPool interface {
	Pick() (string, bool)
}

// ReconcileLease keeps two reconcilers from querying the same address at once.
type ReconcileLease interface {
	// Acquire returns false when another holder owns the address lease.
	Acquire(ctx context.Context, address string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, address string) error
}

// ImportDedupe remembers which import batches were already applied.
type ImportDedupe interface {
	// Seen returns the stored report for digest, or nil.
	Seen(ctx context.Context, digest string) ([]byte, error)
	Remember(ctx context.Context, digest string, report []byte, ttl time.Duration) error
}

// EventPublisher announces reconciled wallets to downstream consumers. Payloads never
// carry key material.
type EventPublisher interface {
	PublishReconciled(ctx context.Context, wallet *domain.Wallet) error
}

// SignatureService signs outbound payloads with a shared secret.
type SignatureService interface {
	Sign(secret string, payload string) string
	Verify(secret string, payload string, signature string) bool
}

// HashService hashes and verifies operator keys.
type HashService interface {
	Hash(secret string) (string, error)
	Verify(secret string, encodedHash string) (bool, error)
}

// AuthService exchanges an operator key for an API token.
type AuthService interface {
	Login(ctx context.Context, operator, key string) (string, time.Time, error)
}

// TokenService issues and validates operator API tokens.
type TokenService interface {
	Generate(subject string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	Subject string
}

// --- Service Ports (Business Logic) ---

// MnemonicService validates and repairs seed phrases against the lexicon.
type MnemonicService interface {
	Correct(phrase string) string
	Inspect(phrase string) CorrectionReport
}

// CorrectionReport describes what Correct changed.
type CorrectionReport struct {
	Original      string
	Corrected     string
	Words         []WordCorrection
	ChecksumValid bool
}

// WordCorrection is one replaced token.
type WordCorrection struct {
	Position    int
	Original    string
	Replacement string
	Distance    int
}

// ReconciliationService refreshes on-chain state and merges it into the store.
type ReconciliationService interface {
	Reconcile(ctx context.Context, wallets []domain.Wallet) ([]domain.Wallet, error)
	ReconcileAll(ctx context.Context, filter domain.WalletFilter) ([]domain.Wallet, error)
}

// WalletService creates and imports wallets.
type WalletService interface {
	Generate(ctx context.Context, req GenerateRequest) (*domain.Wallet, error)
	Import(ctx context.Context, r io.Reader) (*ImportReport, error)
	Get(ctx context.Context, address string) (*domain.Wallet, error)
	List(ctx context.Context, filter domain.WalletFilter) ([]domain.Wallet, error)
}

// GenerateRequest holds validated input for wallet generation.
type GenerateRequest struct {
	Chain    domain.Chain
	Mnemonic string // empty = fresh key material
}

// ImportReport summarises one batch import.
type ImportReport struct {
	BatchID    string          `json:"batch_id"`
	Total      int             `json:"total"`
	Upserted   int             `json:"upserted"`
	Skipped    int             `json:"skipped"`
	Conflicts  []ImportProblem `json:"conflicts,omitempty"`
	Malformed  []ImportProblem `json:"malformed,omitempty"`
	Duplicated bool            `json:"duplicated"` // batch was already applied
}

// ImportProblem points at a record that was not applied.
type ImportProblem struct {
	Index   int    `json:"index"`
	Address string `json:"address,omitempty"`
	Reason  string `json:"reason"`
}

// ExportService produces read-only projections of the store. The Write methods return the
// number of wallets written.
type ExportService interface {
	WriteCSV(ctx context.Context, w io.Writer, filter domain.WalletFilter) (int, error)
	WritePDF(ctx context.Context, w io.Writer, filter domain.WalletFilter) (int, error)
	WriteYAML(ctx context.Context, w io.Writer, filter domain.WalletFilter) (int, error)
	WalletJSON(ctx context.Context, address string) ([]byte, error)
}

package ports

//go:generate mockgen -source=repositories.go -destination=mocks/repositories_mock.go -package=mocks

import (
	"context"

	"wallet-reconciler/internal/core/domain"
)

// WalletStore is the deduplicated, address-keyed wallet collection.
//
// Upsert inserts a wallet whose address is new and otherwise merges it into the stored
// record: fields present in the incoming wallet overwrite, absent (nil) fields keep the
// stored value, token balances and metadata merge per key. An address already stored
// under a different chain fails with domain.ErrDuplicateAddress and changes nothing.
// Concurrent upserts to the same address are serialised; different addresses do not
// block each other.
type WalletStore interface {
	Upsert(ctx context.Context, wallet *domain.Wallet) error
	// Get returns domain.ErrNotFound when no record exists.
	Get(ctx context.Context, address string) (*domain.Wallet, error)
	List(ctx context.Context, filter domain.WalletFilter) ([]domain.Wallet, error)
}

// SecretSealer encrypts key material before it is persisted.
type SecretSealer interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

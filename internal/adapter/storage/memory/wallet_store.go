// Package memory is the process-local wallet store used when no database is configured.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"wallet-reconciler/internal/core/domain"

	"github.com/cespare/xxhash/v2"
)

const stripes = 64

type entry struct {
	seq    uint64
	wallet *domain.Wallet
}

// WalletStore implements ports.WalletStore in memory. Entries are replaced, never mutated,
// so readers need no lock; writers lock one stripe chosen by address hash.
type WalletStore struct {
	locks   [stripes]sync.Mutex
	records sync.Map // address -> *entry
	seq     atomic.Uint64
}

// NewWalletStore creates an empty store.
func NewWalletStore() *WalletStore {
	return &WalletStore{}
}

func (s *WalletStore) stripe(address string) *sync.Mutex {
	return &s.locks[xxhash.Sum64String(address)%stripes]
}

// Upsert inserts w or merges it into the stored record.
func (s *WalletStore) Upsert(ctx context.Context, w *domain.Wallet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.Address == "" {
		return fmt.Errorf("%w: address is required", domain.ErrInvalidInput)
	}

	mu := s.stripe(w.Address)
	mu.Lock()
	defer mu.Unlock()

	cur, ok := s.records.Load(w.Address)
	if !ok {
		s.records.Store(w.Address, &entry{seq: s.seq.Add(1), wallet: w.Clone()})
		return nil
	}

	stored := cur.(*entry)
	if stored.wallet.Chain != w.Chain {
		return &domain.DuplicateAddressError{Address: w.Address, Stored: stored.wallet.Chain, Incoming: w.Chain}
	}
	merged := stored.wallet.Clone()
	merged.MergeFrom(w)
	s.records.Store(w.Address, &entry{seq: stored.seq, wallet: merged})
	return nil
}

// Get returns a copy of the stored wallet.
func (s *WalletStore) Get(ctx context.Context, address string) (*domain.Wallet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cur, ok := s.records.Load(address)
	if !ok {
		return nil, fmt.Errorf("wallet %s: %w", address, domain.ErrNotFound)
	}
	return cur.(*entry).wallet.Clone(), nil
}

// List returns copies of the matching wallets in insertion order.
func (s *WalletStore) List(ctx context.Context, filter domain.WalletFilter) ([]domain.Wallet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entries []*entry
	s.records.Range(func(_, v any) bool {
		e := v.(*entry)
		if filter.Matches(e.wallet) {
			entries = append(entries, e)
		}
		return true
	})
	slices.SortFunc(entries, func(a, b *entry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	out := make([]domain.Wallet, 0, len(entries))
	for _, e := range entries {
		out = append(out, *e.wallet.Clone())
	}
	return out, nil
}

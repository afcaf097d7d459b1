package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"wallet-reconciler/internal/core/domain"
)

// fakeStore is a mutex-guarded map with the same merge rules as the real stores.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]*domain.Wallet
	order   []string
}

func newFakeStore(seed ...domain.Wallet) *fakeStore {
	s := &fakeStore{records: map[string]*domain.Wallet{}}
	for i := range seed {
		_ = s.Upsert(context.Background(), &seed[i])
	}
	return s
}

func (s *fakeStore) Upsert(_ context.Context, w *domain.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[w.Address]
	if !ok {
		s.records[w.Address] = w.Clone()
		s.order = append(s.order, w.Address)
		return nil
	}
	if cur.Chain != w.Chain {
		return &domain.DuplicateAddressError{Address: w.Address, Stored: cur.Chain, Incoming: w.Chain}
	}
	cur.MergeFrom(w)
	return nil
}

func (s *fakeStore) Get(_ context.Context, address string) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[address]
	if !ok {
		return nil, fmt.Errorf("wallet %s: %w", address, domain.ErrNotFound)
	}
	return cur.Clone(), nil
}

func (s *fakeStore) List(_ context.Context, filter domain.WalletFilter) ([]domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Wallet
	for _, a := range s.order {
		if w := s.records[a]; filter.Matches(w) {
			out = append(out, *w.Clone())
		}
	}
	return out, nil
}

// fakeAdapter answers from fixed results and tracks peak concurrency.
type fakeAdapter struct {
	chain   domain.Chain
	balance domain.Result[domain.BalanceInfo]
	name    domain.Result[string]
	meta    domain.Result[map[string]any]
	delay   time.Duration
	block   bool // wait for the call context instead of answering

	derived    *domain.Wallet
	deriveErr  error
	deriveArgs [][]string

	inflight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
	deadline atomic.Bool // some call carried a deadline
}

func (a *fakeAdapter) Chain() domain.Chain { return a.chain }

func (a *fakeAdapter) Derive(_ context.Context, mnemonic []string) (*domain.Wallet, error) {
	a.deriveArgs = append(a.deriveArgs, mnemonic)
	if a.deriveErr != nil {
		return nil, a.deriveErr
	}
	return a.derived.Clone(), nil
}

func (a *fakeAdapter) enter(ctx context.Context) error {
	a.calls.Add(1)
	if _, ok := ctx.Deadline(); ok {
		a.deadline.Store(true)
	}
	n := a.inflight.Add(1)
	for {
		p := a.peak.Load()
		if n <= p || a.peak.CompareAndSwap(p, n) {
			break
		}
	}
	defer a.inflight.Add(-1)
	if a.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	return nil
}

func (a *fakeAdapter) QueryBalance(ctx context.Context, _ string) domain.Result[domain.BalanceInfo] {
	if err := a.enter(ctx); err != nil {
		return domain.Fail[domain.BalanceInfo](domain.Unavailable(a.chain, "balance", err))
	}
	return a.balance
}

func (a *fakeAdapter) ResolveName(ctx context.Context, _ string) domain.Result[string] {
	if err := a.enter(ctx); err != nil {
		return domain.Fail[string](domain.Unavailable(a.chain, "name", err))
	}
	return a.name
}

func (a *fakeAdapter) FetchMetadata(ctx context.Context, _ string) domain.Result[map[string]any] {
	if err := a.enter(ctx); err != nil {
		return domain.Fail[map[string]any](domain.Unavailable(a.chain, "metadata", err))
	}
	return a.meta
}

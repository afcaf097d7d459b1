package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wallet-reconciler/internal/core/domain"
	"wallet-reconciler/internal/core/ports"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "wallet-reconciler/reconcile"

// defaultCallTimeout bounds each adapter call when no CallTimeout is configured.
const defaultCallTimeout = 10 * time.Second

// ReconcileOptions bounds the engine's fan-out.
type ReconcileOptions struct {
	Workers     int
	CallTimeout time.Duration
	LeaseTTL    time.Duration
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// ReconciliationServiceImpl implements ports.ReconciliationService.
type ReconciliationServiceImpl struct {
	adapters map[domain.Chain]ports.ChainAdapter
	store    ports.WalletStore
	lease    ports.ReconcileLease // nil disables cross-process leases
	events   []ports.EventPublisher
	opts     ReconcileOptions
	tracer   trace.Tracer
	now      func() time.Time
	log      zerolog.Logger
}

// NewReconciliationService creates the engine. A later adapter for the same chain
// replaces an earlier one. A non-positive CallTimeout falls back to 10s.
func NewReconciliationService(
	adapters []ports.ChainAdapter,
	store ports.WalletStore,
	lease ports.ReconcileLease,
	opts ReconcileOptions,
	log zerolog.Logger,
) *ReconciliationServiceImpl {
	byChain := make(map[domain.Chain]ports.ChainAdapter, len(adapters))
	for _, a := range adapters {
		byChain[a.Chain()] = a
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &ReconciliationServiceImpl{
		adapters: byChain,
		store:    store,
		lease:    lease,
		opts:     opts,
		tracer:   tp.Tracer(tracerName),
		now:      func() time.Time { return time.Now().UTC() },
		log:      log,
	}
}

// WithPublisher makes the engine announce every stored wallet on p as well as on any
// publisher added before.
func (s *ReconciliationServiceImpl) WithPublisher(p ports.EventPublisher) *ReconciliationServiceImpl {
	s.events = append(s.events, p)
	return s
}

// Reconcile refreshes each wallet from its chain and upserts the merged record. Wallets
// on chains without an adapter are skipped. Chain failures never fail the batch; the
// returned error joins store failures such as duplicate-address conflicts.
func (s *ReconciliationServiceImpl) Reconcile(ctx context.Context, wallets []domain.Wallet) ([]domain.Wallet, error) {
	ctx, span := s.tracer.Start(ctx, "reconcile.batch", trace.WithAttributes(attribute.Int("wallets", len(wallets))))
	defer span.End()

	merged := make([]*domain.Wallet, len(wallets))
	var (
		mu   sync.Mutex
		errs []error
	)

	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for i := range wallets {
		w := &wallets[i]
		adapter, ok := s.adapters[w.Chain]
		if !ok {
			s.log.Debug().Str("chain", string(w.Chain)).Str("address", w.Address).Msg("no adapter for chain, skipping")
			continue
		}
		g.Go(func() error {
			out, err := s.reconcileOne(ctx, adapter, w)
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			merged[i] = out
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.Wallet, 0, len(wallets))
	for _, w := range merged {
		if w != nil {
			out = append(out, *w)
		}
	}
	span.SetAttributes(attribute.Int("reconciled", len(out)))
	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store failures")
	}
	return out, err
}

// ReconcileAll reconciles every stored wallet matching filter.
func (s *ReconciliationServiceImpl) ReconcileAll(ctx context.Context, filter domain.WalletFilter) ([]domain.Wallet, error) {
	wallets, err := s.store.List(ctx, filter.Normalized())
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	return s.Reconcile(ctx, wallets)
}

// reconcileOne returns nil, nil when another reconciler holds the address lease.
func (s *ReconciliationServiceImpl) reconcileOne(ctx context.Context, adapter ports.ChainAdapter, w *domain.Wallet) (*domain.Wallet, error) {
	log := s.log.With().Str("chain", string(w.Chain)).Str("address", w.Address).Logger()

	ctx, span := s.tracer.Start(ctx, "reconcile.wallet", trace.WithAttributes(
		attribute.String("chain", string(w.Chain)),
		attribute.String("address", w.Address),
	))
	defer span.End()

	if s.lease != nil {
		acquired, err := s.lease.Acquire(ctx, w.Address, s.opts.LeaseTTL)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("lease store unavailable, reconciling without lease")
		case !acquired:
			log.Info().Msg("address is being reconciled elsewhere, skipping")
			span.SetAttributes(attribute.Bool("skipped", true))
			return nil, nil
		default:
			defer func() {
				if err := s.lease.Release(context.WithoutCancel(ctx), w.Address); err != nil {
					log.Warn().Err(err).Msg("release lease")
				}
			}()
		}
	}

	var (
		wg      sync.WaitGroup
		balance domain.Result[domain.BalanceInfo]
		name    domain.Result[string]
		meta    domain.Result[map[string]any]
	)
	wg.Go(func() {
		callCtx, end := s.subQuery(ctx, "chain.balance")
		balance = adapter.QueryBalance(callCtx, w.Address)
		end(balance.Err)
	})
	wg.Go(func() {
		callCtx, end := s.subQuery(ctx, "chain.name")
		name = adapter.ResolveName(callCtx, w.Address)
		end(name.Err)
	})
	wg.Go(func() {
		callCtx, end := s.subQuery(ctx, "chain.metadata")
		meta = adapter.FetchMetadata(callCtx, w.Address)
		end(meta.Err)
	})
	wg.Wait()

	now := s.now()
	update := &domain.Wallet{Chain: w.Chain, Address: w.Address, LastChecked: &now}

	if balance.OK() {
		native := balance.Value.Native
		update.NativeBalance = &native
		update.TokenBalances = balance.Value.Tokens
		if len(balance.Value.FailedTokens) > 0 {
			log.Warn().Strs("tokens", balance.Value.FailedTokens).Msg("token balance queries failed, keeping previous values")
		}
	} else {
		log.Warn().Err(balance.Err).Str("field", "balance").Msg("sub-query failed, keeping previous value")
	}
	if name.OK() {
		binding := name.Value
		update.NameBinding = &binding
	} else {
		log.Warn().Err(name.Err).Str("field", "name_binding").Msg("sub-query failed, keeping previous value")
	}
	if meta.OK() {
		update.Metadata = meta.Value
	} else {
		log.Warn().Err(meta.Err).Str("field", "metadata").Msg("sub-query failed, keeping previous value")
	}

	merged := w.Clone()
	merged.MergeFrom(update)
	if err := s.store.Upsert(ctx, merged); err != nil {
		log.Error().Err(err).Msg("store reconciled wallet")
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		return nil, fmt.Errorf("reconcile %s: %w", w.Address, err)
	}

	for _, p := range s.events {
		if err := p.PublishReconciled(ctx, merged); err != nil {
			log.Warn().Err(err).Msg("publish reconciled event")
		}
	}

	log.Debug().Bool("balance_ok", balance.OK()).Bool("name_ok", name.OK()).Bool("metadata_ok", meta.OK()).Msg("wallet reconciled")
	return merged, nil
}

// subQuery bounds one adapter call by CallTimeout and traces it. The returned func ends
// the span and releases the timeout.
func (s *ReconciliationServiceImpl) subQuery(ctx context.Context, name string) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, name)
	ctx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	return ctx, func(err error) {
		cancel()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "sub-query failed")
		}
		span.End()
	}
}

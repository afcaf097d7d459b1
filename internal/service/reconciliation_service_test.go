package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"wallet-reconciler/internal/core/domain"
	"wallet-reconciler/internal/core/ports"
	"wallet-reconciler/internal/core/ports/mocks"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/mock/gomock"
)

var testOpts = ReconcileOptions{Workers: 4, CallTimeout: time.Second, LeaseTTL: time.Minute}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func okAdapter(chain domain.Chain) *fakeAdapter {
	return &fakeAdapter{
		chain: chain,
		balance: domain.Ok(domain.BalanceInfo{
			Native: d("1.25"),
			Tokens: map[string]decimal.Decimal{"DAI": d("10")},
		}),
		name: domain.Ok("owner.eth"),
		meta: domain.Ok(map[string]any{domain.MetaTxCount: int64(7)}),
	}
}

func newEngine(store ports.WalletStore, lease ports.ReconcileLease, adapters ...ports.ChainAdapter) *ReconciliationServiceImpl {
	return NewReconciliationService(adapters, store, lease, testOpts, zerolog.Nop())
}

func TestReconcile_MergesAllFields(t *testing.T) {
	store := newFakeStore()
	eng := newEngine(store, nil, okAdapter(domain.ChainETH))

	out, err := eng.Reconcile(context.Background(), []domain.Wallet{{Chain: domain.ChainETH, Address: "0xabc"}})
	require.NoError(t, err)
	require.Len(t, out, 1)

	got, err := store.Get(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.True(t, d("1.25").Equal(*got.NativeBalance))
	assert.True(t, d("10").Equal(got.TokenBalances["DAI"]))
	assert.Equal(t, "owner.eth", *got.NameBinding)
	assert.Equal(t, int64(7), got.Metadata[domain.MetaTxCount])
	require.NotNil(t, got.LastChecked)
	assert.Equal(t, out[0].LastChecked, got.LastChecked)
}

func TestReconcile_OneFailingTokenKeepsPriorValue(t *testing.T) {
	stored := domain.Wallet{
		Chain:   domain.ChainETH,
		Address: "0xabc",
		TokenBalances: map[string]decimal.Decimal{
			"DAI": d("1"), "USDC": d("2"), "USDT": d("3"),
		},
	}
	store := newFakeStore(stored)
	adapter := okAdapter(domain.ChainETH)
	adapter.balance = domain.Ok(domain.BalanceInfo{
		Native:       d("0.5"),
		Tokens:       map[string]decimal.Decimal{"DAI": d("10"), "USDT": d("30")},
		FailedTokens: []string{"USDC"},
	})
	eng := newEngine(store, nil, adapter)

	_, err := eng.Reconcile(context.Background(), []domain.Wallet{stored})
	require.NoError(t, err)

	got, _ := store.Get(context.Background(), "0xabc")
	assert.True(t, d("10").Equal(got.TokenBalances["DAI"]))
	assert.True(t, d("2").Equal(got.TokenBalances["USDC"]), "failed token must keep its prior value")
	assert.True(t, d("30").Equal(got.TokenBalances["USDT"]))
}

func TestReconcile_FailedSubQueriesKeepPriorValuesAndMarkChecked(t *testing.T) {
	name := "old.eth"
	stored := domain.Wallet{
		Chain:         domain.ChainETH,
		Address:       "0xabc",
		NativeBalance: dp("5.0"),
		NameBinding:   &name,
		Metadata:      map[string]any{domain.MetaNFTCount: int64(2)},
	}
	store := newFakeStore(stored)
	down := errors.New("connection refused")
	adapter := &fakeAdapter{
		chain:   domain.ChainETH,
		balance: domain.Fail[domain.BalanceInfo](domain.Unavailable(domain.ChainETH, "balance", down)),
		name:    domain.Fail[string](domain.Unavailable(domain.ChainETH, "name", down)),
		meta:    domain.Fail[map[string]any](domain.Unavailable(domain.ChainETH, "metadata", down)),
	}
	eng := newEngine(store, nil, adapter)

	_, err := eng.Reconcile(context.Background(), []domain.Wallet{stored})
	require.NoError(t, err, "chain failures must not fail the batch")

	got, _ := store.Get(context.Background(), "0xabc")
	assert.True(t, d("5").Equal(*got.NativeBalance))
	assert.Equal(t, "old.eth", *got.NameBinding)
	assert.Equal(t, int64(2), got.Metadata[domain.MetaNFTCount])
	assert.NotNil(t, got.LastChecked)
}

func TestReconcile_ZeroBalanceAndNoNameAreObservations(t *testing.T) {
	name := "old.eth"
	stored := domain.Wallet{Chain: domain.ChainSOL, Address: "So1", NativeBalance: dp("3"), NameBinding: &name}
	store := newFakeStore(stored)
	adapter := okAdapter(domain.ChainSOL)
	adapter.balance = domain.Ok(domain.BalanceInfo{Native: decimal.Zero, Tokens: map[string]decimal.Decimal{}})
	adapter.name = domain.Ok("")
	eng := newEngine(store, nil, adapter)

	_, err := eng.Reconcile(context.Background(), []domain.Wallet{stored})
	require.NoError(t, err)

	got, _ := store.Get(context.Background(), "So1")
	assert.True(t, got.NativeBalance.IsZero())
	assert.Equal(t, "", *got.NameBinding)
}

func TestReconcile_TimeoutIsFieldFailure(t *testing.T) {
	stored := domain.Wallet{Chain: domain.ChainETH, Address: "0xslow", NativeBalance: dp("4")}
	store := newFakeStore(stored)
	slow := &fakeAdapter{chain: domain.ChainETH, block: true}

	eng := NewReconciliationService([]ports.ChainAdapter{slow, okAdapter(domain.ChainSOL)}, store, nil,
		ReconcileOptions{Workers: 2, CallTimeout: 50 * time.Millisecond}, zerolog.Nop())

	start := time.Now()
	out, err := eng.Reconcile(context.Background(), []domain.Wallet{stored, {Chain: domain.ChainSOL, Address: "So1"}})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Len(t, out, 2)

	got, _ := store.Get(context.Background(), "0xslow")
	assert.True(t, d("4").Equal(*got.NativeBalance))
	assert.NotNil(t, got.LastChecked)

	sol, _ := store.Get(context.Background(), "So1")
	assert.True(t, d("1.25").Equal(*sol.NativeBalance))
}

func TestReconcile_DefaultCallTimeout(t *testing.T) {
	store := newFakeStore()
	adapter := okAdapter(domain.ChainETH)
	eng := NewReconciliationService([]ports.ChainAdapter{adapter}, store, nil, ReconcileOptions{}, zerolog.Nop())
	assert.Equal(t, 10*time.Second, eng.opts.CallTimeout)
	assert.Equal(t, 1, eng.opts.Workers)

	out, err := eng.Reconcile(context.Background(), []domain.Wallet{{Chain: domain.ChainETH, Address: "0xabc"}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].NativeBalance, "an unset timeout must not expire every call")
	assert.True(t, d("1.25").Equal(*out[0].NativeBalance))
	assert.True(t, adapter.deadline.Load())
}

func TestReconcile_SkipsUnknownChains(t *testing.T) {
	store := newFakeStore()
	eng := newEngine(store, nil, okAdapter(domain.ChainETH))

	out, err := eng.Reconcile(context.Background(), []domain.Wallet{
		{Chain: "BTC", Address: "bc1q"},
		{Chain: domain.ChainETH, Address: "0xabc"},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "0xabc", out[0].Address)

	_, err = store.Get(context.Background(), "bc1q")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReconcile_DuplicateAddressIsReturned(t *testing.T) {
	store := newFakeStore(domain.Wallet{Chain: domain.ChainETH, Address: "shared"})
	eng := newEngine(store, nil, okAdapter(domain.ChainETH), okAdapter(domain.ChainSOL))

	out, err := eng.Reconcile(context.Background(), []domain.Wallet{
		{Chain: domain.ChainSOL, Address: "shared"},
		{Chain: domain.ChainSOL, Address: "So1"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDuplicateAddress))
	require.Len(t, out, 1, "the rest of the batch still completes")
	assert.Equal(t, "So1", out[0].Address)

	got, _ := store.Get(context.Background(), "shared")
	assert.Equal(t, domain.ChainETH, got.Chain)
}

func TestReconcile_BoundedByWorkers(t *testing.T) {
	store := newFakeStore()
	adapter := okAdapter(domain.ChainETH)
	adapter.delay = 20 * time.Millisecond

	eng := NewReconciliationService([]ports.ChainAdapter{adapter}, store, nil,
		ReconcileOptions{Workers: 2, CallTimeout: time.Second}, zerolog.Nop())

	wallets := make([]domain.Wallet, 8)
	for i := range wallets {
		wallets[i] = domain.Wallet{Chain: domain.ChainETH, Address: fmt.Sprintf("0x%02d", i)}
	}
	out, err := eng.Reconcile(context.Background(), wallets)
	require.NoError(t, err)
	assert.Len(t, out, 8)
	assert.Equal(t, int32(24), adapter.calls.Load())
	// two wallets at a time, three sub-queries each
	assert.LessOrEqual(t, adapter.peak.Load(), int32(6))
	assert.Greater(t, adapter.peak.Load(), int32(1), "sub-queries of one wallet run concurrently")
}

func TestReconcile_LeaseHeldElsewhereSkips(t *testing.T) {
	ctrl := gomock.NewController(t)
	lease := mocks.NewMockReconcileLease(ctrl)
	store := newFakeStore()
	adapter := okAdapter(domain.ChainETH)
	eng := newEngine(store, lease, adapter)

	lease.EXPECT().Acquire(gomock.Any(), "0xabc", time.Minute).Return(false, nil)

	out, err := eng.Reconcile(context.Background(), []domain.Wallet{{Chain: domain.ChainETH, Address: "0xabc"}})
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, int32(0), adapter.calls.Load())
}

func TestReconcile_LeaseAcquiredAndReleased(t *testing.T) {
	ctrl := gomock.NewController(t)
	lease := mocks.NewMockReconcileLease(ctrl)
	eng := newEngine(newFakeStore(), lease, okAdapter(domain.ChainETH))

	gomock.InOrder(
		lease.EXPECT().Acquire(gomock.Any(), "0xabc", time.Minute).Return(true, nil),
		lease.EXPECT().Release(gomock.Any(), "0xabc").Return(nil),
	)

	out, err := eng.Reconcile(context.Background(), []domain.Wallet{{Chain: domain.ChainETH, Address: "0xabc"}})
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestReconcile_LeaseStoreDownStillReconciles(t *testing.T) {
	ctrl := gomock.NewController(t)
	lease := mocks.NewMockReconcileLease(ctrl)
	eng := newEngine(newFakeStore(), lease, okAdapter(domain.ChainETH))

	lease.EXPECT().Acquire(gomock.Any(), "0xabc", time.Minute).Return(false, errors.New("redis down"))

	out, err := eng.Reconcile(context.Background(), []domain.Wallet{{Chain: domain.ChainETH, Address: "0xabc"}})
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestReconcileAll_UsesStoreListing(t *testing.T) {
	store := newFakeStore(
		domain.Wallet{Chain: domain.ChainETH, Address: "0x1"},
		domain.Wallet{Chain: domain.ChainSOL, Address: "So1"},
	)
	eng := newEngine(store, nil, okAdapter(domain.ChainETH), okAdapter(domain.ChainSOL))

	out, err := eng.ReconcileAll(context.Background(), domain.WalletFilter{Chain: domain.ChainSOL})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "So1", out[0].Address)

	eth, _ := store.Get(context.Background(), "0x1")
	assert.Nil(t, eth.LastChecked, "filtered-out wallets are untouched")
}

func TestReconcileAll_StoreError(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockWalletStore(ctrl)
	eng := newEngine(store, nil, okAdapter(domain.ChainETH))

	store.EXPECT().List(gomock.Any(), domain.WalletFilter{}).Return(nil, errors.New("db down"))

	_, err := eng.ReconcileAll(context.Background(), domain.WalletFilter{})
	assert.Error(t, err)
}

func TestReconcile_PublishesStoredWallets(t *testing.T) {
	ctrl := gomock.NewController(t)
	events := mocks.NewMockEventPublisher(ctrl)

	var published []string
	events.EXPECT().PublishReconciled(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, w *domain.Wallet) error {
			published = append(published, w.Address)
			assert.NotNil(t, w.LastChecked)
			return nil
		})

	store := newFakeStore(domain.Wallet{Chain: domain.ChainSOL, Address: "0xabc"})
	eng := newEngine(store, nil, okAdapter(domain.ChainETH)).WithPublisher(events)

	// the conflicting wallet is never published
	_, err := eng.Reconcile(context.Background(), []domain.Wallet{
		{Chain: domain.ChainETH, Address: "0xabc"},
		{Chain: domain.ChainETH, Address: "0xdef"},
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateAddress)
	assert.Equal(t, []string{"0xdef"}, published)
}

func TestReconcile_PublishFailureIsNotFatal(t *testing.T) {
	ctrl := gomock.NewController(t)
	events := mocks.NewMockEventPublisher(ctrl)
	events.EXPECT().PublishReconciled(gomock.Any(), gomock.Any()).Return(errors.New("broker down"))

	store := newFakeStore()
	eng := newEngine(store, nil, okAdapter(domain.ChainETH)).WithPublisher(events)

	out, err := eng.Reconcile(context.Background(), []domain.Wallet{{Chain: domain.ChainETH, Address: "0x1"}})
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestReconcile_FansOutToEveryPublisher(t *testing.T) {
	ctrl := gomock.NewController(t)
	failing := mocks.NewMockEventPublisher(ctrl)
	failing.EXPECT().PublishReconciled(gomock.Any(), gomock.Any()).Return(errors.New("broker down"))
	ok := mocks.NewMockEventPublisher(ctrl)
	ok.EXPECT().PublishReconciled(gomock.Any(), gomock.Any()).Return(nil)

	eng := newEngine(newFakeStore(), nil, okAdapter(domain.ChainETH)).
		WithPublisher(failing).
		WithPublisher(ok)

	_, err := eng.Reconcile(context.Background(), []domain.Wallet{{Chain: domain.ChainETH, Address: "0x1"}})
	require.NoError(t, err)
}

func TestReconcile_Spans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())

	failing := okAdapter(domain.ChainETH)
	failing.name = domain.Fail[string](domain.Unavailable(domain.ChainETH, "name", errors.New("rpc down")))

	opts := testOpts
	opts.TracerProvider = tp
	eng := NewReconciliationService([]ports.ChainAdapter{failing}, newFakeStore(), nil, opts, zerolog.Nop())

	_, err := eng.Reconcile(context.Background(), []domain.Wallet{{Chain: domain.ChainETH, Address: "0x1"}})
	require.NoError(t, err)

	byName := map[string]tracetest.SpanStub{}
	for _, span := range exporter.GetSpans() {
		byName[span.Name] = span
	}
	require.Len(t, byName, 5)

	batch := byName["reconcile.batch"]
	wallet := byName["reconcile.wallet"]
	assert.Equal(t, batch.SpanContext.SpanID(), wallet.Parent.SpanID())
	for _, name := range []string{"chain.balance", "chain.name", "chain.metadata"} {
		assert.Equal(t, wallet.SpanContext.SpanID(), byName[name].Parent.SpanID(), name)
	}
	assert.Equal(t, codes.Error, byName["chain.name"].Status.Code)
	assert.Equal(t, codes.Unset, byName["chain.balance"].Status.Code)
	assert.Equal(t, codes.Unset, batch.Status.Code)
}

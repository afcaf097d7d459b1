package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"wallet-reconciler/internal/core/domain"
	"wallet-reconciler/internal/core/ports"
	"wallet-reconciler/internal/core/ports/mocks"
	"wallet-reconciler/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// Checksummed ETH addresses used across the wallet tests.
const (
	ethAddr      = "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"
	ethAddrOther = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
)

func newWalletSvc(store ports.WalletStore, dedupe ports.ImportDedupe, opts WalletOptions, adapters ...ports.ChainAdapter) *WalletServiceImpl {
	eng := NewReconciliationService(adapters, store, nil, testOpts, zerolog.Nop())
	return NewWalletService(adapters, NewMnemonicService(NewBIP39Lexicon()), eng, store, dedupe, opts, zerolog.Nop())
}

func TestGenerate_FreshWallet(t *testing.T) {
	store := newFakeStore()
	adapter := okAdapter(domain.ChainETH)
	adapter.derived = &domain.Wallet{Chain: domain.ChainETH, Address: ethAddr}
	svc := newWalletSvc(store, nil, WalletOptions{RequireChecksum: true}, adapter)

	w, err := svc.Generate(context.Background(), ports.GenerateRequest{Chain: domain.ChainETH})
	require.NoError(t, err)
	assert.Equal(t, ethAddr, w.Address)
	require.Len(t, adapter.deriveArgs, 1)
	assert.Nil(t, adapter.deriveArgs[0])

	// the initial reconcile has already landed
	require.NotNil(t, w.NativeBalance)
	assert.True(t, d("1.25").Equal(*w.NativeBalance))

	stored, err := store.Get(context.Background(), ethAddr)
	require.NoError(t, err)
	require.NotNil(t, stored.LastChecked)
}

func TestGenerate_CorrectsMnemonicBeforeDerive(t *testing.T) {
	adapter := okAdapter(domain.ChainETH)
	adapter.derived = &domain.Wallet{Chain: domain.ChainETH, Address: ethAddrOther}
	svc := newWalletSvc(newFakeStore(), nil, WalletOptions{RequireChecksum: true}, adapter)

	typo := strings.Replace(validPhrase, "about", "abot", 1)
	_, err := svc.Generate(context.Background(), ports.GenerateRequest{Chain: domain.ChainETH, Mnemonic: typo})
	require.NoError(t, err)

	require.Len(t, adapter.deriveArgs, 1)
	assert.Equal(t, strings.Fields(validPhrase), adapter.deriveArgs[0])
}

func TestGenerate_ChecksumPolicy(t *testing.T) {
	phrase := "abandon ability able"

	t.Run("required", func(t *testing.T) {
		adapter := okAdapter(domain.ChainETH)
		adapter.derived = &domain.Wallet{Chain: domain.ChainETH, Address: ethAddr}
		svc := newWalletSvc(newFakeStore(), nil, WalletOptions{RequireChecksum: true}, adapter)

		_, err := svc.Generate(context.Background(), ports.GenerateRequest{Chain: domain.ChainETH, Mnemonic: phrase})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)

		var appErr *apperror.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, "WLT_005", appErr.Code)
		assert.Empty(t, adapter.deriveArgs)
	})

	t.Run("not required", func(t *testing.T) {
		adapter := okAdapter(domain.ChainETH)
		adapter.derived = &domain.Wallet{Chain: domain.ChainETH, Address: ethAddr}
		svc := newWalletSvc(newFakeStore(), nil, WalletOptions{}, adapter)

		_, err := svc.Generate(context.Background(), ports.GenerateRequest{Chain: domain.ChainETH, Mnemonic: phrase})
		require.NoError(t, err)
		assert.Equal(t, []string{"abandon", "ability", "able"}, adapter.deriveArgs[0])
	})
}

func TestGenerate_StoresChecksummedAddress(t *testing.T) {
	store := newFakeStore()
	adapter := okAdapter(domain.ChainETH)
	adapter.derived = &domain.Wallet{Chain: domain.ChainETH, Address: strings.ToLower(ethAddr)}
	svc := newWalletSvc(store, nil, WalletOptions{}, adapter)

	w, err := svc.Generate(context.Background(), ports.GenerateRequest{Chain: domain.ChainETH})
	require.NoError(t, err)
	assert.Equal(t, ethAddr, w.Address)

	all, err := store.List(context.Background(), domain.WalletFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, ethAddr, all[0].Address)
}

func TestGenerate_RejectsMalformedDerivedAddress(t *testing.T) {
	store := newFakeStore()
	adapter := okAdapter(domain.ChainETH)
	adapter.derived = &domain.Wallet{Chain: domain.ChainETH, Address: "0xnot-hex"}
	svc := newWalletSvc(store, nil, WalletOptions{}, adapter)

	_, err := svc.Generate(context.Background(), ports.GenerateRequest{Chain: domain.ChainETH})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	all, _ := store.List(context.Background(), domain.WalletFilter{})
	assert.Empty(t, all)
}

func TestGenerate_UnknownChain(t *testing.T) {
	svc := newWalletSvc(newFakeStore(), nil, WalletOptions{}, okAdapter(domain.ChainETH))

	_, err := svc.Generate(context.Background(), ports.GenerateRequest{Chain: "DOGE"})
	assert.ErrorIs(t, err, domain.ErrUnsupportedOperation)
}

func TestGenerate_DeriveUnsupported(t *testing.T) {
	adapter := okAdapter(domain.ChainAptos)
	adapter.deriveErr = domain.ErrUnsupportedOperation
	store := newFakeStore()
	svc := newWalletSvc(store, nil, WalletOptions{RequireChecksum: true}, adapter)

	_, err := svc.Generate(context.Background(), ports.GenerateRequest{Chain: domain.ChainAptos, Mnemonic: validPhrase})
	assert.ErrorIs(t, err, domain.ErrUnsupportedOperation)

	all, _ := store.List(context.Background(), domain.WalletFilter{})
	assert.Empty(t, all)
}

const importBatch = `[
	{"chain": "ETH", "address": "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", "balance": "1.5", "token_balances": {"DAI": "3"}},
	{"chain": "SOL", "address": "0x9858effd232b4033e47d90003d41ec34ecaeda94", "balance": "9"},
	{"chain": "ETH", "address": ""},
	"not an object",
	{"chain": "sol", "address": "So1ana", "mnemonic": "abandon about", "ens_name": ""}
]`

func TestImport_DuplicateAddressAcrossChains(t *testing.T) {
	store := newFakeStore()
	svc := newWalletSvc(store, nil, WalletOptions{})

	report, err := svc.Import(context.Background(), strings.NewReader(importBatch))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDuplicateAddress)
	require.NotNil(t, report)

	assert.NotEmpty(t, report.BatchID)
	assert.Equal(t, 5, report.Total)
	assert.Equal(t, 2, report.Upserted)
	assert.Equal(t, 3, report.Skipped)
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, 1, report.Conflicts[0].Index)
	assert.Equal(t, ethAddr, report.Conflicts[0].Address)
	require.Len(t, report.Malformed, 2)
	assert.Equal(t, 2, report.Malformed[0].Index)
	assert.Equal(t, 3, report.Malformed[1].Index)

	// the first claim wins; the conflicting record leaves no trace
	w, err := store.Get(context.Background(), ethAddr)
	require.NoError(t, err)
	assert.Equal(t, domain.ChainETH, w.Chain)
	assert.True(t, d("1.5").Equal(*w.NativeBalance))

	sol, err := store.Get(context.Background(), "So1ana")
	require.NoError(t, err)
	assert.Equal(t, domain.ChainSOL, sol.Chain)
	assert.Equal(t, []string{"abandon", "about"}, sol.Mnemonic)
	assert.Nil(t, sol.NameBinding)
}

func TestImport_MixedCaseEthAddressesShareOneRow(t *testing.T) {
	store := newFakeStore()
	svc := newWalletSvc(store, nil, WalletOptions{})

	batch := `[
		{"chain": "ETH", "address": "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", "balance": "5"},
		{"chain": "ETH", "address": "0x9858effd232b4033e47d90003d41ec34ecaeda94", "balance": "7"}
	]`
	report, err := svc.Import(context.Background(), strings.NewReader(batch))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Upserted)

	all, err := store.List(context.Background(), domain.WalletFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, ethAddr, all[0].Address)
	assert.True(t, d("7").Equal(*all[0].NativeBalance))
}

func TestImport_RejectsMalformedEthAddress(t *testing.T) {
	store := newFakeStore()
	svc := newWalletSvc(store, nil, WalletOptions{})

	report, err := svc.Import(context.Background(), strings.NewReader(`[{"chain":"ETH","address":"0xaaa"}]`))
	require.NoError(t, err)
	assert.Zero(t, report.Upserted)
	require.Len(t, report.Malformed, 1)
	assert.Contains(t, report.Malformed[0].Reason, "not an ETH address")

	all, _ := store.List(context.Background(), domain.WalletFilter{})
	assert.Empty(t, all)
}

func TestImport_RejectsNonArray(t *testing.T) {
	svc := newWalletSvc(newFakeStore(), nil, WalletOptions{})

	_, err := svc.Import(context.Background(), strings.NewReader(`{"chain":"ETH"}`))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestImport_StoreFailureAborts(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockWalletStore(ctrl)
	store.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))

	svc := newWalletSvc(store, nil, WalletOptions{})
	report, err := svc.Import(context.Background(), strings.NewReader(`[{"chain":"SOL","address":"So1"},{"chain":"SOL","address":"So2"}]`))
	require.Error(t, err)
	assert.Nil(t, report)
	assert.Contains(t, err.Error(), "record 0")
}

func TestImport_ReplayedBatchReturnsStoredReport(t *testing.T) {
	ctrl := gomock.NewController(t)
	dedupe := mocks.NewMockImportDedupe(ctrl)
	store := newFakeStore()
	svc := newWalletSvc(store, dedupe, WalletOptions{ImportTTL: time.Hour})

	batch := `[{"chain":"SOL","address":"So1"}]`

	var saved []byte
	var savedDigest string
	dedupe.EXPECT().Seen(gomock.Any(), gomock.Any()).Return(nil, nil)
	dedupe.EXPECT().Remember(gomock.Any(), gomock.Any(), gomock.Any(), time.Hour).
		DoAndReturn(func(_ context.Context, digest string, report []byte, _ time.Duration) error {
			savedDigest, saved = digest, report
			return nil
		})

	first, err := svc.Import(context.Background(), strings.NewReader(batch))
	require.NoError(t, err)
	assert.False(t, first.Duplicated)
	assert.Len(t, savedDigest, 64)

	dedupe.EXPECT().Seen(gomock.Any(), savedDigest).Return(saved, nil)

	second, err := svc.Import(context.Background(), strings.NewReader(batch))
	require.NoError(t, err)
	assert.True(t, second.Duplicated)
	assert.Equal(t, first.BatchID, second.BatchID)
	assert.Equal(t, 1, second.Upserted)
}

func TestImport_ReplayedBatchRepeatsConflicts(t *testing.T) {
	ctrl := gomock.NewController(t)
	dedupe := mocks.NewMockImportDedupe(ctrl)
	store := newFakeStore()
	svc := newWalletSvc(store, dedupe, WalletOptions{ImportTTL: time.Hour})

	var saved []byte
	dedupe.EXPECT().Seen(gomock.Any(), gomock.Any()).Return(nil, nil)
	dedupe.EXPECT().Remember(gomock.Any(), gomock.Any(), gomock.Any(), time.Hour).
		DoAndReturn(func(_ context.Context, _ string, report []byte, _ time.Duration) error {
			saved = report
			return nil
		})

	first, err := svc.Import(context.Background(), strings.NewReader(importBatch))
	require.ErrorIs(t, err, domain.ErrDuplicateAddress)
	require.Len(t, first.Conflicts, 1)

	dedupe.EXPECT().Seen(gomock.Any(), gomock.Any()).Return(saved, nil)

	second, err := svc.Import(context.Background(), strings.NewReader(importBatch))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDuplicateAddress)
	assert.Contains(t, err.Error(), ethAddr)
	require.NotNil(t, second)
	assert.True(t, second.Duplicated)
	assert.Equal(t, first.BatchID, second.BatchID)
	assert.Equal(t, first.Conflicts, second.Conflicts)
}

func TestImport_DedupeFailureStillApplies(t *testing.T) {
	ctrl := gomock.NewController(t)
	dedupe := mocks.NewMockImportDedupe(ctrl)
	dedupe.EXPECT().Seen(gomock.Any(), gomock.Any()).Return(nil, errors.New("redis down"))
	dedupe.EXPECT().Remember(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("redis down"))

	store := newFakeStore()
	svc := newWalletSvc(store, dedupe, WalletOptions{})

	report, err := svc.Import(context.Background(), strings.NewReader(`[{"chain":"SOL","address":"So1"}]`))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Upserted)

	_, err = store.Get(context.Background(), "So1")
	assert.NoError(t, err)
}

func TestImportReport_JSON(t *testing.T) {
	raw, err := json.Marshal(ports.ImportReport{BatchID: "b", Total: 1, Upserted: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"batch_id":"b","total":1,"upserted":1,"skipped":0,"duplicated":false}`, string(raw))
}

func TestWalletService_GetAndList(t *testing.T) {
	store := newFakeStore(
		domain.Wallet{Chain: domain.ChainETH, Address: "0x1"},
		domain.Wallet{Chain: domain.ChainSOL, Address: "So1"},
	)
	svc := newWalletSvc(store, nil, WalletOptions{})

	w, err := svc.Get(context.Background(), "So1")
	require.NoError(t, err)
	assert.Equal(t, domain.ChainSOL, w.Chain)

	_, err = svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err := svc.List(context.Background(), domain.WalletFilter{Chain: domain.ChainETH})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "0x1", list[0].Address)
}

func TestWalletService_LookupsIgnoreHexCase(t *testing.T) {
	store := newFakeStore(domain.Wallet{Chain: domain.ChainETH, Address: ethAddr})
	svc := newWalletSvc(store, nil, WalletOptions{})

	w, err := svc.Get(context.Background(), strings.ToLower(ethAddr))
	require.NoError(t, err)
	assert.Equal(t, ethAddr, w.Address)

	w, err = svc.Get(context.Background(), " 0X"+strings.ToUpper(ethAddr[2:])+" ")
	require.NoError(t, err)
	assert.Equal(t, ethAddr, w.Address)

	list, err := svc.List(context.Background(), domain.WalletFilter{Addresses: []string{strings.ToLower(ethAddr)}})
	require.NoError(t, err)
	require.Len(t, list, 1)
}

package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wallet-reconciler/internal/adapter/http/handler"
	"wallet-reconciler/internal/adapter/storage/memory"
	"wallet-reconciler/internal/core/domain"
	"wallet-reconciler/internal/core/ports"
	"wallet-reconciler/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	operatorName = "ops"
	operatorKey  = "operator-key-123"
	typoPhrase   = "abandn abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

	importedAddr  = "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"
	generatedAddr = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
)

// chainStub answers every query from fixed values. A nil balance fails the query.
type chainStub struct {
	chain   domain.Chain
	native  *decimal.Decimal
	tokens  map[string]decimal.Decimal
	failing []string
	name    string
}

func (s *chainStub) Chain() domain.Chain { return s.chain }

func (s *chainStub) Derive(_ context.Context, mnemonic []string) (*domain.Wallet, error) {
	return &domain.Wallet{Chain: s.chain, Address: strings.ToLower(generatedAddr), Mnemonic: mnemonic}, nil
}

func (s *chainStub) QueryBalance(context.Context, string) domain.Result[domain.BalanceInfo] {
	if s.native == nil {
		return domain.Fail[domain.BalanceInfo](fmt.Errorf("%w: rpc timeout", domain.ErrChainUnavailable))
	}
	return domain.Ok(domain.BalanceInfo{Native: *s.native, Tokens: s.tokens, FailedTokens: s.failing})
}

func (s *chainStub) ResolveName(context.Context, string) domain.Result[string] {
	if s.name == "" {
		return domain.Fail[string](domain.ErrUnsupportedOperation)
	}
	return domain.Ok(s.name)
}

func (s *chainStub) FetchMetadata(context.Context, string) domain.Result[map[string]any] {
	return domain.Ok(map[string]any{"nft_count": 3})
}

type apiClient struct {
	t      *testing.T
	router *gin.Engine
	token  string
}

func (c *apiClient) do(method, path string, body []byte) *httptest.ResponseRecorder {
	c.t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)
	return rec
}

func data(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	require.NotNil(t, env.Data, rec.Body.String())
	return env.Data
}

func newAPI(t *testing.T) *apiClient {
	t.Helper()
	log := zerolog.Nop()

	hashes := service.NewArgon2HashService()
	keyHash, err := hashes.Hash(operatorKey)
	require.NoError(t, err)
	tokens := service.NewJWTTokenService("e2e-jwt-secret", time.Hour, "wallet-reconciler")
	auth := service.NewAuthService([]service.Operator{{Name: operatorName, KeyHash: keyHash}}, hashes, tokens, log)

	native := decimal.RequireFromString("2.5")
	eth := &chainStub{
		chain:   domain.ChainETH,
		native:  &native,
		tokens:  map[string]decimal.Decimal{"USDC": decimal.RequireFromString("10")},
		failing: []string{"DAI"},
		name:    "vault.eth",
	}
	sol := &chainStub{chain: domain.ChainSOL}
	adapters := []ports.ChainAdapter{eth, sol}

	store := memory.NewWalletStore()
	dedupe, err := memory.NewImportDedupe(1 << 20)
	require.NoError(t, err)
	t.Cleanup(dedupe.Close)

	mnemonic := service.NewMnemonicService(service.NewBIP39Lexicon())
	reconciler := service.NewReconciliationService(adapters, store, nil, service.ReconcileOptions{
		Workers:     4,
		CallTimeout: time.Second,
	}, log)
	wallets := service.NewWalletService(adapters, mnemonic, reconciler, store, dedupe, service.WalletOptions{
		RequireChecksum: true,
		ImportTTL:       time.Hour,
	}, log)

	router := handler.SetupRouter(handler.RouterDeps{
		AuthSvc:      auth,
		TokenSvc:     tokens,
		MnemonicSvc:  mnemonic,
		WalletSvc:    wallets,
		ReconcileSvc: reconciler,
		ExportSvc:    service.NewExportService(store, log),
		Logger:       log,
	})
	return &apiClient{t: t, router: router}
}

func TestAPI_EndToEnd(t *testing.T) {
	api := newAPI(t)

	// operator login
	rec := api.do(http.MethodPost, "/api/v1/auth/token", []byte(`{"operator":"ops","key":"wrong-key-000"}`))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(http.MethodPost, "/api/v1/auth/token", []byte(`{"operator":"ops","key":"`+operatorKey+`"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	api.token = data(t, rec)["token"].(string)
	require.NotEmpty(t, api.token)

	// mnemonic correction
	rec = api.do(http.MethodPost, "/api/v1/mnemonic/correct", []byte(`{"phrase":"`+typoPhrase+`"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	corrected := data(t, rec)
	assert.Equal(t, strings.Replace(typoPhrase, "abandn", "abandon", 1), corrected["corrected"])
	assert.Equal(t, true, corrected["checksum_valid"])

	// batch import with one cross-chain conflict, one malformed record and the ETH
	// address repeated in lowercase
	batch := []byte(`[
		{"chain":"ETH","address":"0x9858EfFD232B4033E47d90003D41EC34EcaEda94","private_key":"0x0102","balance":"1.0","token_balances":{"DAI":"7"}},
		{"chain":"SOL","address":"So1","private_key":[1,2,3],"mnemonic":null,"balance":"5"},
		{"chain":"SOL","address":"0x9858effd232b4033e47d90003d41ec34ecaeda94","balance":"9"},
		{"chain":"ETH"},
		{"chain":"ETH","address":"0x9858effd232b4033e47d90003d41ec34ecaeda94","balance":"3"}
	]`)
	rec = api.do(http.MethodPost, "/api/v1/wallets/import", batch)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	report := data(t, rec)
	assert.EqualValues(t, 5, report["total"])
	assert.EqualValues(t, 3, report["upserted"])
	assert.EqualValues(t, 2, report["skipped"])
	assert.Len(t, report["conflicts"], 1)
	assert.Len(t, report["malformed"], 1)

	rec = api.do(http.MethodGet, "/api/v1/wallets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, data(t, rec)["count"], "both spellings of the ETH address share one row")

	rec = api.do(http.MethodPost, "/api/v1/wallets/import", batch)
	require.Equal(t, http.StatusOK, rec.Code)
	replay := data(t, rec)
	assert.Equal(t, true, replay["duplicated"])
	assert.Len(t, replay["conflicts"], 1)

	// reconcile everything
	rec = api.do(http.MethodPost, "/api/v1/wallets/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, data(t, rec)["count"])

	rec = api.do(http.MethodGet, "/api/v1/wallets/"+strings.ToLower(importedAddr), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	eth := data(t, rec)
	assert.Equal(t, "ETH", eth["chain"])
	assert.Equal(t, importedAddr, eth["address"])
	assert.Equal(t, "2.5", eth["native_balance"])
	assert.Equal(t, map[string]any{"USDC": "10", "DAI": "7"}, eth["token_balances"], "failed token keeps its prior value")
	assert.Equal(t, "vault.eth", eth["name_binding"])
	assert.Equal(t, true, eth["has_private_key"])

	rec = api.do(http.MethodGet, "/api/v1/wallets/So1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sol := data(t, rec)
	assert.Equal(t, "5", sol["native_balance"], "failed balance query keeps the imported balance")
	assert.NotNil(t, sol["last_checked"])

	rec = api.do(http.MethodGet, "/api/v1/wallets?chain=sol", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, data(t, rec)["count"])

	rec = api.do(http.MethodGet, "/api/v1/wallets?address="+strings.ToUpper(importedAddr[2:]), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, data(t, rec)["count"], "bare hex is not read as an ETH address")

	rec = api.do(http.MethodGet, "/api/v1/wallets?address=0x"+strings.ToUpper(importedAddr[2:]), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, data(t, rec)["count"])

	// generation from a corrupted phrase
	rec = api.do(http.MethodPost, "/api/v1/wallets", []byte(`{"chain":"eth","mnemonic":"`+typoPhrase+`"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	generated := data(t, rec)
	assert.Equal(t, generatedAddr, generated["address"])
	assert.Equal(t, strings.Replace(typoPhrase, "abandn", "abandon", 1), generated["mnemonic"])
	assert.Equal(t, "2.5", generated["native_balance"])

	rec = api.do(http.MethodPost, "/api/v1/wallets", []byte(`{"chain":"eth","mnemonic":"abandon ability able"}`))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// export
	rec = api.do(http.MethodGet, "/api/v1/wallets/export.csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("X-Wallet-Count"))
	assert.Contains(t, rec.Body.String(), importedAddr)
	assert.Contains(t, rec.Body.String(), "So1")
	assert.Contains(t, rec.Body.String(), generatedAddr)
}

package aptos

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"wallet-reconciler/internal/core/domain"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const account = "0x4f2b9c1e8d7a6b5c4d3e2f1a0b9c8d7e6f5a4b3c2d1e0f9a8b7c6d5e4f3a2b1c"

func newFullnode(t *testing.T, h http.Handler) *Adapter {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/v1/", 8, srv.Client(), zerolog.Nop())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"message":    "Account not found by Address",
		"error_code": "account_not_found",
	})
}

func TestAdapter_Derive(t *testing.T) {
	a := New("", 8, nil, zerolog.Nop())

	w, err := a.Derive(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ChainAptos, w.Chain)
	assert.Nil(t, w.Mnemonic)
	require.Len(t, w.PrivateKey.Bytes, ed25519.SeedSize)

	pub := ed25519.NewKeyFromSeed(w.PrivateKey.Bytes).Public().(ed25519.PublicKey)
	assert.Equal(t, AddressFromPublicKey(pub), w.Address)
	assert.True(t, strings.HasPrefix(w.Address, "0x"))
	assert.Len(t, w.Address, 66)

	_, err = a.Derive(context.Background(), []string{"abandon"})
	assert.ErrorIs(t, err, domain.ErrUnsupportedOperation)
}

func TestAddressFromPublicKey_KnownVector(t *testing.T) {
	// SHA3-256(pubkey || 0x00)
	pub, err := hex.DecodeString("de19e5d1880cac87d57484ce9ed2e84cf0f9599f12e7cc3a52e4e7657a763f2c")
	require.NoError(t, err)
	assert.Equal(t, "0x978c213990c4833df71548df7ce49d54c759d6b6d932de22b24d56060b7af2aa",
		AddressFromPublicKey(pub))
}

func TestAdapter_QueryBalance_CoinStore(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/accounts/"+account+"/resources", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{
			{"type": "0x1::account::Account", "data": map[string]any{}},
			{"type": coinStoreType, "data": map[string]any{"coin": map[string]string{"value": "150000000"}}},
		})
	})
	a := newFullnode(t, mux)

	res := a.QueryBalance(context.Background(), account)
	require.True(t, res.OK(), "err: %v", res.Err)
	assert.True(t, decimal.RequireFromString("1.5").Equal(res.Value.Native))
	assert.Empty(t, res.Value.Tokens)
}

func TestAdapter_QueryBalance_ViewFallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/accounts/"+account+"/resources", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{})
	})
	mux.HandleFunc("/v1/view", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "0x1::coin::balance", body["function"])
		writeJSON(w, http.StatusOK, []string{"250000000"})
	})
	a := newFullnode(t, mux)

	res := a.QueryBalance(context.Background(), account)
	require.True(t, res.OK(), "err: %v", res.Err)
	assert.True(t, decimal.RequireFromString("2.5").Equal(res.Value.Native))
}

func TestAdapter_QueryBalance_UnknownAccountIsZero(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/accounts/"+account+"/resources", func(w http.ResponseWriter, r *http.Request) {
		notFound(w)
	})
	a := newFullnode(t, mux)

	res := a.QueryBalance(context.Background(), account)
	require.True(t, res.OK())
	assert.True(t, res.Value.Native.IsZero())
}

func TestAdapter_QueryBalance_BareNotFoundFails(t *testing.T) {
	a := newFullnode(t, http.NotFoundHandler())

	res := a.QueryBalance(context.Background(), account)
	require.False(t, res.OK(), "a 404 without account_not_found is not an empty account")
	assert.ErrorIs(t, res.Err, domain.ErrChainUnavailable)
	assert.Contains(t, res.Err.Error(), "404")
}

func TestAdapter_QueryBalance_OtherNotFoundCodeFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/accounts/"+account+"/resources", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"message":    "Ledger version not found",
			"error_code": "version_not_found",
		})
	})
	a := newFullnode(t, mux)

	res := a.QueryBalance(context.Background(), account)
	assert.ErrorIs(t, res.Err, domain.ErrChainUnavailable)
	assert.Contains(t, res.Err.Error(), "version_not_found")
}

func TestAdapter_EscapesAddressInPath(t *testing.T) {
	var uris []string
	a := newFullnode(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uris = append(uris, r.RequestURI)
		notFound(w)
	}))

	res := a.QueryBalance(context.Background(), "0x1/../../x")
	require.True(t, res.OK())
	meta := a.FetchMetadata(context.Background(), "0x1/../../x")
	require.True(t, meta.OK())

	assert.Equal(t, []string{
		"/v1/accounts/0x1%2F..%2F..%2Fx/resources",
		"/v1/accounts/0x1%2F..%2F..%2Fx",
	}, uris)
}

func TestAdapter_QueryBalance_ServerError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/accounts/"+account+"/resources", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
	})
	a := newFullnode(t, mux)

	res := a.QueryBalance(context.Background(), account)
	assert.ErrorIs(t, res.Err, domain.ErrChainUnavailable)
	assert.Contains(t, res.Err.Error(), "503")
}

func TestAdapter_FetchMetadata(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/accounts/"+account, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"sequence_number": "17", "authentication_key": account})
	})
	a := newFullnode(t, mux)

	res := a.FetchMetadata(context.Background(), account)
	require.True(t, res.OK())
	assert.Equal(t, int64(17), res.Value[domain.MetaSequenceNumber])
}

func TestAdapter_FetchMetadata_UnknownAccount(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/accounts/"+account, func(w http.ResponseWriter, r *http.Request) {
		notFound(w)
	})
	a := newFullnode(t, mux)

	res := a.FetchMetadata(context.Background(), account)
	require.True(t, res.OK())
	assert.Equal(t, int64(0), res.Value[domain.MetaSequenceNumber])
}

func TestAdapter_FetchMetadata_BareNotFoundFails(t *testing.T) {
	a := newFullnode(t, http.NotFoundHandler())

	res := a.FetchMetadata(context.Background(), account)
	require.False(t, res.OK())
	assert.ErrorIs(t, res.Err, domain.ErrChainUnavailable)
}

func TestAdapter_ResolveName_NoBinding(t *testing.T) {
	res := New("", 8, nil, zerolog.Nop()).ResolveName(context.Background(), account)
	require.True(t, res.OK())
	assert.Equal(t, "", res.Value)
}

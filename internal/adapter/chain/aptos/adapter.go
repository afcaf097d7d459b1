// Package aptos is the Aptos chain adapter over the fullnode REST API.
package aptos

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"wallet-reconciler/internal/core/domain"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"
)

const (
	coinType      = "0x1::aptos_coin::AptosCoin"
	coinStoreType = "0x1::coin::CoinStore<" + coinType + ">"

	// ed25519SchemeID is appended to the public key before hashing into an address.
	ed25519SchemeID = 0x00
)

// Adapter implements ports.ChainAdapter for Aptos.
type Adapter struct {
	rest     *restClient
	decimals int32
	log      zerolog.Logger
}

// New creates the adapter. decimals is the APT octa scale (8 on mainnet).
func New(restURL string, decimals int32, httpClient *http.Client, log zerolog.Logger) *Adapter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Adapter{
		rest:     &restClient{base: strings.TrimRight(strings.TrimSpace(restURL), "/"), http: httpClient},
		decimals: decimals,
		log:      log.With().Str("chain", string(domain.ChainAptos)).Logger(),
	}
}

func (a *Adapter) Chain() domain.Chain { return domain.ChainAptos }

// Derive generates a fresh single-signer ed25519 account. There is no mnemonic path.
func (a *Adapter) Derive(_ context.Context, mnemonic []string) (*domain.Wallet, error) {
	if mnemonic != nil {
		return nil, fmt.Errorf("%w: APTOS wallets cannot be derived from a mnemonic", domain.ErrUnsupportedOperation)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	secret := domain.HexSecret(priv.Seed())
	return &domain.Wallet{
		Chain:      domain.ChainAptos,
		Address:    AddressFromPublicKey(pub),
		PrivateKey: &secret,
	}, nil
}

// AddressFromPublicKey is SHA3-256(pubkey || scheme) in 0x-prefixed hex.
func AddressFromPublicKey(pub ed25519.PublicKey) string {
	sum := sha3.Sum256(append(append([]byte(nil), pub...), ed25519SchemeID))
	return "0x" + hex.EncodeToString(sum[:])
}

type resource struct {
	Type string `json:"type"`
	Data struct {
		Coin struct {
			Value string `json:"value"`
		} `json:"coin"`
	} `json:"data"`
}

// QueryBalance reads the APT CoinStore, falling back to the coin::balance view for
// accounts whose APT lives in a fungible store. An account that does not exist on chain
// holds zero.
func (a *Adapter) QueryBalance(ctx context.Context, address string) domain.Result[domain.BalanceInfo] {
	var resources []resource
	err := a.rest.get(ctx, accountPath(address)+"/resources", &resources)
	if isAccountNotFound(err) {
		return domain.Ok(a.balance(new(big.Int)))
	}
	if err != nil {
		return domain.Fail[domain.BalanceInfo](domain.Unavailable(domain.ChainAptos, "get resources", err))
	}

	for _, r := range resources {
		if r.Type != coinStoreType {
			continue
		}
		octas, ok := new(big.Int).SetString(r.Data.Coin.Value, 10)
		if !ok {
			return domain.Fail[domain.BalanceInfo](domain.Unavailable(domain.ChainAptos, "get resources",
				fmt.Errorf("invalid coin value %q", r.Data.Coin.Value)))
		}
		return domain.Ok(a.balance(octas))
	}

	octas, err := a.viewBalance(ctx, address)
	if err != nil {
		return domain.Fail[domain.BalanceInfo](domain.Unavailable(domain.ChainAptos, "view balance", err))
	}
	return domain.Ok(a.balance(octas))
}

func accountPath(address string) string {
	return "/accounts/" + url.PathEscape(address)
}

func (a *Adapter) balance(octas *big.Int) domain.BalanceInfo {
	return domain.BalanceInfo{
		Native: decimal.NewFromBigInt(octas, -a.decimals),
		Tokens: map[string]decimal.Decimal{},
	}
}

func (a *Adapter) viewBalance(ctx context.Context, address string) (*big.Int, error) {
	req := map[string]any{
		"function":       "0x1::coin::balance",
		"type_arguments": []string{coinType},
		"arguments":      []string{address},
	}
	var out []string
	if err := a.rest.post(ctx, "/view", req, &out); err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected view result length %d", len(out))
	}
	octas, ok := new(big.Int).SetString(out[0], 10)
	if !ok {
		return nil, fmt.Errorf("invalid balance %q", out[0])
	}
	return octas, nil
}

// ResolveName always reports no binding.
func (a *Adapter) ResolveName(context.Context, string) domain.Result[string] {
	return domain.Ok("")
}

// FetchMetadata reports the account sequence number; 0 for accounts not yet on chain.
func (a *Adapter) FetchMetadata(ctx context.Context, address string) domain.Result[map[string]any] {
	var account struct {
		SequenceNumber string `json:"sequence_number"`
	}
	err := a.rest.get(ctx, accountPath(address), &account)
	if isAccountNotFound(err) {
		return domain.Ok(map[string]any{domain.MetaSequenceNumber: int64(0)})
	}
	if err != nil {
		return domain.Fail[map[string]any](domain.Unavailable(domain.ChainAptos, "get account", err))
	}

	seq, err := strconv.ParseInt(account.SequenceNumber, 10, 64)
	if err != nil {
		return domain.Fail[map[string]any](domain.Unavailable(domain.ChainAptos, "get account", err))
	}
	return domain.Ok(map[string]any{domain.MetaSequenceNumber: seq})
}

// Package sol is the Solana chain adapter built on gagliardetto/solana-go.
package sol

import (
	"context"
	"fmt"
	"math/big"
	"net/http"

	"wallet-reconciler/internal/core/domain"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const lamportDecimals = 9

// Adapter implements ports.ChainAdapter for Solana.
type Adapter struct {
	client *rpc.Client
	log    zerolog.Logger
}

// New creates the adapter against rpcURL. httpClient carries identity rotation.
func New(rpcURL string, httpClient *http.Client, log zerolog.Logger) *Adapter {
	opts := &jsonrpc.RPCClientOpts{}
	if httpClient != nil {
		opts.HTTPClient = httpClient
	}
	return &Adapter{
		client: rpc.NewWithCustomRPCClient(jsonrpc.NewClientWithOpts(rpcURL, opts)),
		log:    log.With().Str("chain", string(domain.ChainSOL)).Logger(),
	}
}

func (a *Adapter) Chain() domain.Chain { return domain.ChainSOL }

// Derive generates a fresh ed25519 keypair. Solana keys here have no mnemonic path.
func (a *Adapter) Derive(_ context.Context, mnemonic []string) (*domain.Wallet, error) {
	if mnemonic != nil {
		return nil, fmt.Errorf("%w: SOL wallets cannot be derived from a mnemonic", domain.ErrUnsupportedOperation)
	}

	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	secret := domain.ByteSecret(key)
	return &domain.Wallet{
		Chain:      domain.ChainSOL,
		Address:    key.PublicKey().String(),
		PrivateKey: &secret,
	}, nil
}

// QueryBalance returns the finalized SOL balance. Solana has no tracked tokens, so
// Tokens is an empty, confirmed map.
func (a *Adapter) QueryBalance(ctx context.Context, address string) domain.Result[domain.BalanceInfo] {
	owner, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return domain.Fail[domain.BalanceInfo](fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
	}

	out, err := a.client.GetBalance(ctx, owner, rpc.CommitmentFinalized)
	if err != nil {
		return domain.Fail[domain.BalanceInfo](domain.Unavailable(domain.ChainSOL, "get balance", err))
	}

	lamports := new(big.Int)
	if out != nil {
		lamports.SetUint64(out.Value)
	}
	return domain.Ok(domain.BalanceInfo{
		Native: decimal.NewFromBigInt(lamports, -lamportDecimals),
		Tokens: map[string]decimal.Decimal{},
	})
}

// ResolveName always reports no binding.
func (a *Adapter) ResolveName(context.Context, string) domain.Result[string] {
	return domain.Ok("")
}

// FetchMetadata counts the SPL token accounts owned by address.
func (a *Adapter) FetchMetadata(ctx context.Context, address string) domain.Result[map[string]any] {
	owner, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return domain.Fail[map[string]any](fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
	}

	out, err := a.client.GetTokenAccountsByOwner(ctx, owner,
		&rpc.GetTokenAccountsConfig{ProgramId: solana.TokenProgramID.ToPointer()},
		&rpc.GetTokenAccountsOpts{Encoding: solana.EncodingJSONParsed, Commitment: rpc.CommitmentFinalized},
	)
	if err != nil {
		return domain.Fail[map[string]any](domain.Unavailable(domain.ChainSOL, "token accounts", err))
	}

	count := 0
	if out != nil {
		count = len(out.Value)
	}
	return domain.Ok(map[string]any{domain.MetaTokenAccounts: int64(count)})
}

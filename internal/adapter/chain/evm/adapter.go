// Package evm is the Ethereum chain adapter: BIP-44 derivation, native and ERC-20
// balances over JSON-RPC, ENS reverse names and ERC-721 holdings.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"wallet-reconciler/internal/adapter/chain/rpc"
	"wallet-reconciler/internal/core/domain"

	"github.com/dgraph-io/ristretto"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const weiDecimals = 18

// Token is one tracked ERC-20 contract. Decimals 0 means ask the contract.
type Token struct {
	Symbol   string
	Contract string
	Decimals int32
}

// Config configures the adapter.
type Config struct {
	RPCURL         string
	Tokens         []Token
	NFTCollections []string
	ENSRegistry    string
	NameCacheTTL   time.Duration
}

type token struct {
	symbol   string
	contract common.Address
	decimals int32
}

// Adapter implements ports.ChainAdapter for Ethereum.
type Adapter struct {
	rpc      *rpc.Client
	tokens   []token
	nfts     []common.Address
	registry *common.Address // nil disables name resolution
	names    *ristretto.Cache
	nameTTL  time.Duration
	decimals sync.Map // common.Address -> int32
	log      zerolog.Logger
}

// New creates the adapter. httpClient carries the per-request identity rotation.
// Every configured contract must be a hex address.
func New(cfg Config, httpClient *http.Client, log zerolog.Logger) (*Adapter, error) {
	tokens := make([]token, 0, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		contract, err := parseAddress(t.Contract)
		if err != nil {
			return nil, fmt.Errorf("token %s: %w", t.Symbol, err)
		}
		tokens = append(tokens, token{symbol: t.Symbol, contract: contract, decimals: t.Decimals})
	}
	nfts := make([]common.Address, 0, len(cfg.NFTCollections))
	for _, c := range cfg.NFTCollections {
		contract, err := parseAddress(c)
		if err != nil {
			return nil, fmt.Errorf("nft collection: %w", err)
		}
		nfts = append(nfts, contract)
	}
	var registry *common.Address
	if cfg.ENSRegistry != "" {
		addr, err := parseAddress(cfg.ENSRegistry)
		if err != nil {
			return nil, fmt.Errorf("ens registry: %w", err)
		}
		registry = &addr
	}

	names, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 16,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("name cache: %w", err)
	}

	return &Adapter{
		rpc:      rpc.New(cfg.RPCURL, httpClient),
		tokens:   tokens,
		nfts:     nfts,
		registry: registry,
		names:    names,
		nameTTL:  cfg.NameCacheTTL,
		log:      log.With().Str("chain", string(domain.ChainETH)).Logger(),
	}, nil
}

// Close releases the name cache.
func (a *Adapter) Close() {
	a.names.Close()
}

func (a *Adapter) Chain() domain.Chain { return domain.ChainETH }

// Derive derives the m/44'/60'/0'/0/0 account from mnemonic, or from a fresh 12-word
// phrase when mnemonic is nil.
func (a *Adapter) Derive(_ context.Context, mnemonic []string) (*domain.Wallet, error) {
	if mnemonic != nil && len(mnemonic) == 0 {
		return nil, fmt.Errorf("%w: empty mnemonic", domain.ErrInvalidInput)
	}
	if mnemonic == nil {
		fresh, err := NewMnemonic()
		if err != nil {
			return nil, err
		}
		mnemonic = fresh
	}

	priv, address, err := DeriveKey(mnemonic)
	if err != nil {
		return nil, err
	}
	pk := domain.HexSecret(priv)
	return &domain.Wallet{
		Chain:      domain.ChainETH,
		Address:    address,
		PrivateKey: &pk,
		Mnemonic:   append([]string(nil), mnemonic...),
	}, nil
}

// QueryBalance reads the ether balance, then each tracked token. A token that fails is
// listed in FailedTokens and the rest continue.
func (a *Adapter) QueryBalance(ctx context.Context, address string) domain.Result[domain.BalanceInfo] {
	holder, err := parseAddress(address)
	if err != nil {
		return domain.Fail[domain.BalanceInfo](err)
	}
	var wei hexutil.Big
	if err := a.rpc.Call(ctx, "eth_getBalance", []any{holder, "latest"}, &wei); err != nil {
		return domain.Fail[domain.BalanceInfo](domain.Unavailable(domain.ChainETH, "get balance", err))
	}

	info := domain.BalanceInfo{
		Native: rpc.FormatUnits(wei.ToInt(), weiDecimals),
		Tokens: make(map[string]decimal.Decimal, len(a.tokens)),
	}
	for _, tok := range a.tokens {
		amount, err := a.tokenBalance(ctx, tok, holder)
		if err != nil {
			a.log.Debug().Err(err).Str("address", address).Str("token", tok.symbol).Msg("token balance unavailable")
			info.FailedTokens = append(info.FailedTokens, tok.symbol)
			continue
		}
		info.Tokens[tok.symbol] = amount
	}
	return domain.Ok(info)
}

func (a *Adapter) tokenBalance(ctx context.Context, tok token, holder common.Address) (decimal.Decimal, error) {
	raw, err := a.balanceOf(ctx, tok.contract, holder)
	if err != nil {
		return decimal.Decimal{}, err
	}
	decimals, err := a.tokenDecimals(ctx, tok)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return rpc.FormatUnits(raw, decimals), nil
}

func (a *Adapter) balanceOf(ctx context.Context, contract, holder common.Address) (*big.Int, error) {
	out, err := a.callView(ctx, &tokenABI, contract, "balanceOf", holder)
	if err != nil {
		return nil, err
	}
	n, ok := out.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf returned %T", out)
	}
	return n, nil
}

func (a *Adapter) tokenDecimals(ctx context.Context, tok token) (int32, error) {
	if tok.decimals > 0 {
		return tok.decimals, nil
	}
	if d, ok := a.decimals.Load(tok.contract); ok {
		return d.(int32), nil
	}

	out, err := a.callView(ctx, &tokenABI, tok.contract, "decimals")
	if err != nil {
		return 0, fmt.Errorf("decimals: %w", err)
	}
	n, ok := out.(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals returned %T", out)
	}
	if n > 77 {
		return 0, fmt.Errorf("decimals out of range: %d", n)
	}
	d := int32(n)
	a.decimals.Store(tok.contract, d)
	return d, nil
}

// ResolveName returns the ENS primary name of address, verified by forward resolution.
// No reverse record, or one that does not resolve back, is an empty successful result.
func (a *Adapter) ResolveName(ctx context.Context, address string) domain.Result[string] {
	holder, err := parseAddress(address)
	if err != nil {
		// Not an EVM address: nothing can be bound to it.
		return domain.Ok("")
	}
	if v, ok := a.names.Get(holder.Hex()); ok {
		return domain.Ok(v.(string))
	}

	name, err := a.reverseLookup(ctx, holder)
	if err != nil {
		return domain.Fail[string](domain.Unavailable(domain.ChainETH, "resolve name", err))
	}
	if a.nameTTL > 0 {
		a.names.SetWithTTL(holder.Hex(), name, 1, a.nameTTL)
	}
	return domain.Ok(name)
}

func (a *Adapter) reverseLookup(ctx context.Context, holder common.Address) (string, error) {
	if a.registry == nil {
		return "", nil
	}

	reverseNode := namehash(reverseName(holder))
	resolver, err := a.resolverOf(ctx, reverseNode)
	if err != nil || resolver == (common.Address{}) {
		return "", err
	}

	out, err := a.callView(ctx, &ensABI, resolver, "name", reverseNode)
	if err != nil {
		if errors.Is(err, rpc.ErrEmptyResult) {
			return "", nil
		}
		return "", err
	}
	name, _ := out.(string)
	if name == "" {
		return "", nil
	}

	// A reverse record is only a claim; the forward record must point back.
	forwardNode := namehash(name)
	forwardResolver, err := a.resolverOf(ctx, forwardNode)
	if err != nil || forwardResolver == (common.Address{}) {
		return "", err
	}
	out, err = a.callView(ctx, &ensABI, forwardResolver, "addr", forwardNode)
	if err != nil {
		return "", err
	}
	if resolved, _ := out.(common.Address); resolved != holder {
		a.log.Debug().Str("address", holder.Hex()).Str("name", name).Msg("ens reverse record does not resolve back")
		return "", nil
	}
	return name, nil
}

func (a *Adapter) resolverOf(ctx context.Context, node [32]byte) (common.Address, error) {
	out, err := a.callView(ctx, &ensABI, *a.registry, "resolver", node)
	if err != nil {
		return common.Address{}, err
	}
	resolver, _ := out.(common.Address)
	return resolver, nil
}

// FetchMetadata reports tx_count and, when collections are configured, nft_count.
// Each key is present only when its query succeeded.
func (a *Adapter) FetchMetadata(ctx context.Context, address string) domain.Result[map[string]any] {
	holder, err := parseAddress(address)
	if err != nil {
		return domain.Fail[map[string]any](err)
	}
	meta := make(map[string]any, 2)
	var errs []error

	var nonce hexutil.Uint64
	if err := a.rpc.Call(ctx, "eth_getTransactionCount", []any{holder, "latest"}, &nonce); err != nil {
		errs = append(errs, err)
	} else {
		meta[domain.MetaTxCount] = int64(nonce)
	}

	if len(a.nfts) > 0 {
		total := new(big.Int)
		var nftErr error
		for _, collection := range a.nfts {
			n, err := a.balanceOf(ctx, collection, holder)
			if err != nil {
				nftErr = fmt.Errorf("collection %s: %w", collection.Hex(), err)
				break
			}
			total.Add(total, n)
		}
		if nftErr != nil {
			errs = append(errs, nftErr)
		} else {
			meta[domain.MetaNFTCount] = total.Int64()
		}
	}

	if len(meta) == 0 && len(errs) > 0 {
		return domain.Fail[map[string]any](domain.Unavailable(domain.ChainETH, "fetch metadata", errors.Join(errs...)))
	}
	for _, err := range errs {
		a.log.Debug().Err(err).Str("address", address).Msg("metadata field unavailable")
	}
	return domain.Ok(meta)
}

// callView packs method for contract, runs it through eth_call against to and unpacks the
// single return value. A call that returns no data is rpc.ErrEmptyResult.
func (a *Adapter) callView(ctx context.Context, contract *abi.ABI, to common.Address, method string, args ...any) (any, error) {
	input, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	var out hexutil.Bytes
	msg := map[string]any{"to": to, "data": hexutil.Bytes(input)}
	if err := a.rpc.Call(ctx, "eth_call", []any{msg, "latest"}, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", method, rpc.ErrEmptyResult)
	}

	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%s returned %d values", method, len(values))
	}
	return values[0], nil
}

// parseAddress accepts a 20-byte hex address in any letter case.
func parseAddress(address string) (common.Address, error) {
	if !common.IsHexAddress(address) {
		return common.Address{}, fmt.Errorf("%w: not an ethereum address: %q", domain.ErrInvalidInput, address)
	}
	return common.HexToAddress(address), nil
}

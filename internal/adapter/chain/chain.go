// Package chain assembles the per-chain adapters from configuration.
package chain

import (
	"fmt"
	"time"

	"wallet-reconciler/config"
	"wallet-reconciler/internal/adapter/chain/aptos"
	"wallet-reconciler/internal/adapter/chain/evm"
	"wallet-reconciler/internal/adapter/chain/proxy"
	"wallet-reconciler/internal/adapter/chain/sol"
	"wallet-reconciler/internal/core/ports"
	"wallet-reconciler/pkg/logger"

	"github.com/rs/zerolog"
)

// Set is the adapters built for one process. Close releases the EVM name cache.
type Set struct {
	Adapters []ports.ChainAdapter
	closers  []func()
}

// Close releases adapter resources.
func (s *Set) Close() {
	for _, c := range s.closers {
		c()
	}
}

// Build creates one adapter per supported chain. All adapters share an HTTP client whose
// transport picks a proxy from the configured pool for every request.
func Build(cfg *config.Config, log zerolog.Logger) (*Set, error) {
	pool, err := proxy.NewPool(cfg.Proxies)
	if err != nil {
		return nil, fmt.Errorf("proxy pool: %w", err)
	}
	// the HTTP timeout is a backstop; per-call deadlines come from the reconciler
	httpClient := proxy.NewHTTPClient(pool, 2*cfg.Reconcile.CallTimeout+5*time.Second)

	chainLog := logger.Component(log, "chain")
	if pool.Len() > 0 {
		chainLog.Info().Int("proxies", pool.Len()).Msg("outbound identity rotation enabled")
	}

	tokens := make([]evm.Token, 0, len(cfg.Chains.ETH.Tokens))
	for _, t := range cfg.Chains.ETH.Tokens {
		tokens = append(tokens, evm.Token{Symbol: t.Symbol, Contract: t.Contract, Decimals: t.Decimals})
	}
	eth, err := evm.New(evm.Config{
		RPCURL:         cfg.Chains.ETH.RPCURL,
		Tokens:         tokens,
		NFTCollections: cfg.Chains.ETH.NFTCollections,
		ENSRegistry:    cfg.Chains.ETH.ENSRegistry,
		NameCacheTTL:   cfg.Chains.ETH.NameCacheTTL,
	}, httpClient, chainLog)
	if err != nil {
		return nil, fmt.Errorf("eth adapter: %w", err)
	}

	return &Set{
		Adapters: []ports.ChainAdapter{
			eth,
			sol.New(cfg.Chains.SOL.RPCURL, httpClient, chainLog),
			aptos.New(cfg.Chains.Aptos.RESTURL, cfg.Chains.Aptos.Decimals, httpClient, chainLog),
		},
		closers: []func(){eth.Close},
	}, nil
}

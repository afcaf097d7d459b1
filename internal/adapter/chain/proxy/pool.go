// Package proxy rotates outbound identities for chain requests.
package proxy

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wallet-reconciler/internal/core/ports"
)

// Pool is a fixed list of proxy URLs. It is never mutated after construction.
type Pool struct {
	urls []string
}

// NewPool validates raw proxy URLs. Blank entries are dropped.
func NewPool(raw []string) (*Pool, error) {
	p := &Pool{}
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		u, err := url.Parse(r)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy url %q", r)
		}
		p.urls = append(p.urls, r)
	}
	return p, nil
}

// Pick returns a random proxy URL, or false when the pool is empty.
func (p *Pool) Pick() (string, bool) {
	if p == nil || len(p.urls) == 0 {
		return "", false
	}
	return p.urls[rand.IntN(len(p.urls))], true
}

// Len reports how many identities the pool holds.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.urls)
}

// NewHTTPClient returns a client that asks pool for an identity on every request and
// goes direct when it gets none.
func NewHTTPClient(pool ports.IdentityPool, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = func(*http.Request) (*url.URL, error) {
		if pool == nil {
			return nil, nil
		}
		raw, ok := pool.Pick()
		if !ok {
			return nil, nil
		}
		return url.Parse(raw)
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

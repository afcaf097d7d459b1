package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"wallet-reconciler/internal/core/ports/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestNewPool(t *testing.T) {
	p, err := NewPool([]string{"http://10.0.0.1:3128", " ", "socks5://10.0.0.2:1080"})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Len())

	_, err = NewPool([]string{"not a url"})
	assert.Error(t, err)
}

func TestPool_Pick(t *testing.T) {
	empty, err := NewPool(nil)
	require.NoError(t, err)
	_, ok := empty.Pick()
	assert.False(t, ok)

	var nilPool *Pool
	_, ok = nilPool.Pick()
	assert.False(t, ok)

	urls := []string{"http://a:1", "http://b:2", "http://c:3"}
	p, err := NewPool(urls)
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		u, ok := p.Pick()
		require.True(t, ok)
		assert.Contains(t, urls, u)
		seen[u] = true
	}
	assert.Len(t, seen, 3, "random choice should reach every identity")
}

func TestNewHTTPClient_RoutesThroughPickedProxy(t *testing.T) {
	var hits atomic.Int32
	fakeProxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		// A forward proxy sees the absolute target URL.
		assert.Equal(t, "http://chain.invalid/rpc", r.URL.String())
		_, _ = io.WriteString(w, "via-proxy")
	}))
	defer fakeProxy.Close()

	ctrl := gomock.NewController(t)
	pool := mocks.NewMockIdentityPool(ctrl)
	pool.EXPECT().Pick().Return(fakeProxy.URL, true)

	client := NewHTTPClient(pool, time.Second)
	resp, err := client.Get("http://chain.invalid/rpc")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "via-proxy", string(body))
	assert.Equal(t, int32(1), hits.Load())
}

func TestNewHTTPClient_DirectWhenPoolEmpty(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "direct")
	}))
	defer target.Close()

	ctrl := gomock.NewController(t)
	pool := mocks.NewMockIdentityPool(ctrl)
	pool.EXPECT().Pick().Return("", false)

	resp, err := NewHTTPClient(pool, time.Second).Get(target.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "direct", string(body))
}

package kalshi_test

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lehacf-git/castle-bot/internal/adapters/kalshi"
	"github.com/lehacf-git/castle-bot/internal/domain"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile("../../../testdata/fixtures/" + name)
	require.NoError(t, err)
	return data
}

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func fastClient(srv *httptest.Server, signer *kalshi.Signer, opts ...kalshi.Option) *kalshi.Client {
	opts = append([]kalshi.Option{kalshi.WithRetryWait(time.Millisecond)}, opts...)
	return kalshi.NewClient(srv.URL, signer, opts...)
}

func TestBaseURLFor(t *testing.T) {
	assert.Equal(t, kalshi.DemoBaseURL, kalshi.BaseURLFor(domain.EnvDemo))
	assert.Equal(t, kalshi.ProdBaseURL, kalshi.BaseURLFor(domain.EnvProd))
}

func TestListMarkets_Paginates(t *testing.T) {
	page1 := fixture(t, "kalshi_markets_page1.json")
	page2 := fixture(t, "kalshi_markets_page2.json")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets", r.URL.Path)
		assert.Equal(t, "open", r.URL.Query().Get("status"))
		assert.Equal(t, "200", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("cursor") == "page2" {
			w.Write(page2)
			return
		}
		w.Write(page1)
	}))
	defer srv.Close()

	markets, err := fastClient(srv, nil).ListMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 3)

	m := markets[0]
	assert.Equal(t, "KXFED-26DEC-T4.00", m.Ticker)
	assert.Equal(t, "KXFED-26DEC", m.EventTicker)
	assert.Equal(t, 48, m.YesBid)
	assert.Equal(t, 53, m.YesAsk)
	assert.Equal(t, int64(15230), m.Volume24h)
	assert.Equal(t, int64(88410), m.OpenInterest)
	assert.Equal(t, time.Date(2026, 12, 10, 19, 0, 0, 0, time.UTC), m.CloseTime)
	assert.True(t, m.Tradable())

	assert.True(t, markets[2].CloseTime.IsZero())
}

func TestListMarkets_MaxPages(t *testing.T) {
	page1 := fixture(t, "kalshi_markets_page1.json")
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write(page1) // siempre devuelve cursor
	}))
	defer srv.Close()

	markets, err := fastClient(srv, nil, kalshi.WithPaging(50, 2)).ListMarkets(context.Background())
	require.NoError(t, err)
	assert.Len(t, markets, 4)
	assert.Equal(t, int32(2), calls.Load())
}

func TestListMarkets_UnauthorizedIsTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"code":"authentication_error"}}`))
	}))
	defer srv.Close()

	_, err := fastClient(srv, nil).ListMarkets(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	var apiErr *kalshi.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestListMarkets_ServerErrorRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := fastClient(srv, nil).ListMarkets(context.Background())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, int32(4), calls.Load())
}

func TestFetchOrderBook_Maps(t *testing.T) {
	data := fixture(t, "kalshi_orderbook.json")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets/KXFED-26DEC-T4.00/orderbook", r.URL.Path)
		w.Write(data)
	}))
	defer srv.Close()

	ob, err := fastClient(srv, nil).FetchOrderBook(context.Background(), "KXFED-26DEC-T4.00")
	require.NoError(t, err)
	assert.Equal(t, "KXFED-26DEC-T4.00", ob.MarketID)
	assert.Len(t, ob.YesBids, 3)
	assert.Len(t, ob.NoBids, 3)

	snap, ok := domain.ExtractSnapshot(ob, domain.DefaultDepthBandCents)
	require.True(t, ok)
	assert.Equal(t, 48, snap.Bid.PriceCents)
	assert.Equal(t, 53, snap.Ask.PriceCents)
	assert.Equal(t, 215, snap.Bid.Depth)
	assert.Equal(t, 105, snap.Ask.Depth)
}

func TestFetchOrderBook_OneSided(t *testing.T) {
	data := fixture(t, "kalshi_orderbook_one_sided.json")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}))
	defer srv.Close()

	ob, err := fastClient(srv, nil).FetchOrderBook(context.Background(), "KX-THIN")
	require.NoError(t, err)
	assert.Len(t, ob.YesBids, 1, "malformed level dropped")
	assert.Empty(t, ob.NoBids)

	snap, ok := domain.ExtractSnapshot(ob, domain.DefaultDepthBandCents)
	assert.False(t, ok)
	assert.False(t, snap.Ask.Present)
}

func TestFetchOrderBook_BreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := fastClient(srv, nil)
	for range 3 {
		_, err := c.FetchOrderBook(context.Background(), "KX-A")
		require.Error(t, err)
	}
	before := calls.Load()

	_, err := c.FetchOrderBook(context.Background(), "KX-A")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, before, calls.Load(), "open breaker must not reach the server")
}

func TestFetchOrderBook_NotFoundDoesNotTrip(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := fastClient(srv, nil)
	for range 5 {
		_, err := c.FetchOrderBook(context.Background(), "KX-GONE")
		require.Error(t, err)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}
	assert.Equal(t, int32(5), calls.Load())
}

func TestSubmitOrder_SignedRequest(t *testing.T) {
	key := newKey(t)
	signer, err := kalshi.NewSigner("key-123", key)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/portfolio/orders", r.URL.Path)
		assert.Equal(t, "key-123", r.Header.Get("KALSHI-ACCESS-KEY"))

		ts := r.Header.Get("KALSHI-ACCESS-TIMESTAMP")
		sig, err := base64.StdEncoding.DecodeString(r.Header.Get("KALSHI-ACCESS-SIGNATURE"))
		assert.NoError(t, err)
		digest := sha256.Sum256([]byte(ts + "POST" + "/portfolio/orders"))
		assert.NoError(t, rsa.VerifyPSS(&key.PublicKey, crypto.SHA256, digest[:], sig,
			&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "KX-A", body["ticker"])
		assert.Equal(t, "buy", body["action"])
		assert.Equal(t, "no", body["side"])
		assert.Equal(t, "limit", body["type"])
		assert.EqualValues(t, 7, body["count"])
		assert.EqualValues(t, 41, body["no_price"])
		assert.NotContains(t, body, "yes_price")
		assert.Equal(t, "cid-1", body["client_order_id"])

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"order":{"order_id":"ord-789","status":"resting"}}`))
	}))
	defer srv.Close()

	id, err := fastClient(srv, signer).SubmitOrder(context.Background(), domain.OrderRequest{
		MarketID: "KX-A", Side: domain.SideNo, PriceCents: 41, Count: 7, ClientOrderID: "cid-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "ord-789", id)
}

func TestSubmitOrder_WithoutCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not be sent")
	}))
	defer srv.Close()

	_, err := fastClient(srv, nil).SubmitOrder(context.Background(), domain.OrderRequest{
		MarketID: "KX-A", Side: domain.SideYes, PriceCents: 50, Count: 1,
	})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestSubmitOrder_RejectsBadInput(t *testing.T) {
	c := kalshi.NewClient("http://unused.invalid", nil)
	_, err := c.SubmitOrder(context.Background(), domain.OrderRequest{MarketID: "KX-A", Side: domain.SideYes, PriceCents: 0, Count: 1})
	assert.Error(t, err)
	_, err = c.SubmitOrder(context.Background(), domain.OrderRequest{MarketID: "KX-A", Side: domain.SideYes, PriceCents: 50, Count: 0})
	assert.Error(t, err)
}

func TestLoadSigner_PKCS1AndPKCS8(t *testing.T) {
	key := newKey(t)
	dir := t.TempDir()

	pkcs1 := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pkcs8 := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	for name, data := range map[string][]byte{"pkcs1.pem": pkcs1, "pkcs8.pem": pkcs8} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, data, 0o600))

		s, err := kalshi.LoadSigner("kid", path)
		require.NoError(t, err, name)
		assert.Equal(t, "kid", s.KeyID())

		sig, err := s.Sign("1700000000000", "GET", "/trade-api/v2/portfolio/balance")
		require.NoError(t, err)
		raw, err := base64.StdEncoding.DecodeString(sig)
		require.NoError(t, err)
		digest := sha256.Sum256([]byte("1700000000000GET/trade-api/v2/portfolio/balance"))
		assert.NoError(t, rsa.VerifyPSS(&key.PublicKey, crypto.SHA256, digest[:], raw, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}))
	}
}

func TestLoadSigner_Errors(t *testing.T) {
	_, err := kalshi.LoadSigner("kid", filepath.Join(t.TempDir(), "missing.pem"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a pem"), 0o600))
	_, err = kalshi.LoadSigner("kid", bad)
	assert.Error(t, err)

	_, err = kalshi.NewSigner("", newKey(t))
	assert.Error(t, err)
}

package dtdchttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/parcelops/trackdesk/internal/apperr"
	"github.com/stretchr/testify/require"
)

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (c *memCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[key]
	return b, ok, nil
}

func (c *memCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func TestGetTracking(t *testing.T) {
	var gotToken string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Access-Token")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{
			"trackHeader": {
				"strShipmentNo": "D1234567890",
				"strOrigin": "DELHI",
				"strDestination": "MUMBAI",
				"strBookedDate": "15112025",
				"strStatus": "In Transit",
				"strStatusTransOn": "16112025"
			},
			"trackDetails": [
				{"strAction": "Booked", "strActionDate": "15112025", "strActionTime": "0930", "strOrigin": "DELHI", "strRemarks": "picked up"}
			]
		}`))
	}))
	defer srv.Close()

	c := New(srv.URL, NewStaticTokenSource("tok-123"), time.Second)
	res, err := c.GetTracking(context.Background(), "D1234567890")
	require.NoError(t, err)

	require.Equal(t, "tok-123", gotToken)
	require.Equal(t, "cnno", gotBody["trkType"])
	require.Equal(t, "D1234567890", gotBody["strcnno"])
	require.Equal(t, "Y", gotBody["addtnlDtl"])

	require.NotNil(t, res.Header)
	require.Equal(t, "D1234567890", res.Header.ShipmentNo)
	require.Equal(t, "In Transit", res.Header.Status)
	require.Len(t, res.Details, 1)
	require.Equal(t, "Booked", res.Details[0].Action)
	require.Equal(t, "0930", res.Details[0].ActionTime)
	require.NotEmpty(t, res.Raw)
}

func TestGetTracking_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, NewStaticTokenSource("tok"), time.Second)
	_, err := c.GetTracking(context.Background(), "D1")
	require.ErrorIs(t, err, apperr.ErrTransport)
}

func TestGetTracking_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // closed on purpose

	c := New(srv.URL, NewStaticTokenSource("tok"), time.Second)
	_, err := c.GetTracking(context.Background(), "D1")
	require.ErrorIs(t, err, apperr.ErrTransport)
}

func TestGetTracking_BadJSONKeepsRaw(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer srv.Close()

	c := New(srv.URL, NewStaticTokenSource("tok"), time.Second)
	res, err := c.GetTracking(context.Background(), "D1")
	require.ErrorIs(t, err, apperr.ErrParse)
	require.Contains(t, string(res.Raw), "maintenance")
}

func TestGetTracking_UnauthorizedInvalidatesToken(t *testing.T) {
	trackSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer trackSrv.Close()

	cache := newMemCache()
	require.NoError(t, cache.Set(context.Background(), "dtdc:access-token", []byte("stale"), time.Minute))

	ts := NewTokenSource("http://unused", "u", "p", cache, time.Minute, time.Second)
	c := New(trackSrv.URL, ts, time.Second)

	_, err := c.GetTracking(context.Background(), "D1")
	require.ErrorIs(t, err, apperr.ErrTransport)

	_, ok, _ := cache.Get(context.Background(), "dtdc:access-token")
	require.False(t, ok)
}

func TestTokenSource_FetchAndCache(t *testing.T) {
	var authCalls int
	authSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCalls++
		require.Equal(t, "user", r.URL.Query().Get("username"))
		require.Equal(t, "pass", r.URL.Query().Get("password"))
		_, _ = w.Write([]byte(`{"tokenKey":"fresh-token"}`))
	}))
	defer authSrv.Close()

	cache := newMemCache()
	ts := NewTokenSource(authSrv.URL, "user", "pass", cache, time.Minute, time.Second)

	tok, err := ts.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "fresh-token", tok)

	// Second call is served from the cache.
	tok, err = ts.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "fresh-token", tok)
	require.Equal(t, 1, authCalls)

	ts.Invalidate(context.Background())
	_, err = ts.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, authCalls)
}

func TestTokenSource_EmptyTokenKey(t *testing.T) {
	authSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer authSrv.Close()

	ts := NewTokenSource(authSrv.URL, "u", "p", newMemCache(), time.Minute, time.Second)
	_, err := ts.Token(context.Background())
	require.ErrorIs(t, err, apperr.ErrParse)
}

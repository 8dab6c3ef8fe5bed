package pricefeed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"trade-settlement-engine/internal/config"
)

// setupTestServer creates a new test server and a RestClient configured to use it.
func setupTestServer(handler http.Handler) (*RestClient, *httptest.Server) {
	server := httptest.NewServer(handler)

	rc := &RestClient{
		client:  resty.New().SetBaseURL(server.URL),
		logger:  zap.NewNop(),
		limiter: rate.NewLimiter(rate.Inf, 1), // Allow all requests in tests
		backoff: func(int) time.Duration { return time.Millisecond },
	}

	return rc, server
}

func TestGetServerTime(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		// Arrange
		expectedTime := time.Now().UnixMilli()
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/time", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			_, _ = fmt.Fprintf(w, `{"serverTime": %d}`, expectedTime)
		})
		rc, server := setupTestServer(handler)
		defer server.Close()

		// Act
		serverTime, err := rc.GetServerTime(context.Background())

		// Assert
		assert.NoError(t, err)
		assert.Equal(t, expectedTime, serverTime)
	})

	t.Run("APIError", func(t *testing.T) {
		var calls int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"code": -1001, "msg": "Internal error"}`))
		})
		rc, server := setupTestServer(handler)
		defer server.Close()

		serverTime, err := rc.GetServerTime(context.Background())

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get server time")
		assert.Contains(t, err.Error(), "request failed after 3 attempts")
		assert.Equal(t, int64(0), serverTime)
		assert.Equal(t, int32(maxRetries), atomic.LoadInt32(&calls))
	})
}

func TestPrice(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/ticker/price", r.URL.Path)
			assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","price":"50000.12000000"}`))
		})
		rc, server := setupTestServer(handler)
		defer server.Close()

		price, err := rc.Price(context.Background(), "BTCUSDT")

		assert.NoError(t, err)
		assert.True(t, price.Equal(decimal.RequireFromString("50000.12")), price.String())
	})

	t.Run("RetriesAfterRateLimit", func(t *testing.T) {
		var calls int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"symbol":"ETHUSDT","price":"3800"}`))
		})
		rc, server := setupTestServer(handler)
		defer server.Close()

		price, err := rc.Price(context.Background(), "ETHUSDT")

		assert.NoError(t, err)
		assert.True(t, price.Equal(decimal.NewFromInt(3800)))
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("ClientErrorIsNotRetried", func(t *testing.T) {
		var calls int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code": -1121, "msg": "Invalid symbol."}`))
		})
		rc, server := setupTestServer(handler)
		defer server.Close()

		_, err := rc.Price(context.Background(), "NOPE")

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "Invalid symbol")
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("UnparseablePrice", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","price":"n/a"}`))
		})
		rc, server := setupTestServer(handler)
		defer server.Close()

		_, err := rc.Price(context.Background(), "BTCUSDT")
		assert.Error(t, err)
	})
}

func TestNewRestClient(t *testing.T) {
	cfg := &config.PriceFeed{BaseURL: "https://example.invalid/api/v3", RateLimit: 20, RateLimitBurst: 5}
	rc := NewRestClient(cfg, zap.NewNop())
	assert.NotNil(t, rc)
	assert.Equal(t, cfg.BaseURL, rc.client.BaseURL)
	assert.Equal(t, 5, rc.limiter.Burst())
}

func TestStaticFeed(t *testing.T) {
	feed := NewStaticFeed(map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(50000)})

	p, err := feed.Price(context.Background(), "BTCUSDT")
	assert.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(50000)))

	_, err = feed.Price(context.Background(), "ETHUSDT")
	assert.Error(t, err)

	feed.Set("ETHUSDT", decimal.NewFromInt(3800))
	p, err = feed.Price(context.Background(), "ETHUSDT")
	assert.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(3800)))
}

package upbit

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/quorumtrade/internal/exchange"
)

const (
	testAccess = "access-key"
	testSecret = "secret-key"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(testAccess, testSecret, WithBaseURL(server.URL), WithTimeout(5*time.Second))
}

// claimsFrom verifies the bearer token and returns its claims.
func claimsFrom(t *testing.T, r *http.Request) jwt.MapClaims {
	t.Helper()
	header := r.Header.Get("Authorization")
	require.True(t, strings.HasPrefix(header, "Bearer "), "missing bearer token")

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims, func(tok *jwt.Token) (any, error) {
		return []byte(testSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)
	return claims
}

func sha512Hex(s string) string {
	sum := sha512.Sum512([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestChanceSignsQuery(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/orders/chance", r.URL.Path)
		assert.Equal(t, "KRW-BTC", r.URL.Query().Get("market"))

		claims := claimsFrom(t, r)
		assert.Equal(t, testAccess, claims["access_key"])
		assert.NotEmpty(t, claims["nonce"])
		assert.Equal(t, sha512Hex("market=KRW-BTC"), claims["query_hash"])
		assert.Equal(t, "SHA512", claims["query_hash_alg"])

		_, _ = io.WriteString(w, `{
			"bid_fee": "0.0005", "ask_fee": "0.0005",
			"market": {"id": "KRW-BTC", "bid": {"currency": "KRW", "min_total": "5000"}, "ask": {"currency": "BTC", "min_total": "5000"}},
			"bid_account": {"currency": "KRW", "balance": "1000000.0", "locked": "0.0", "avg_buy_price": "0"},
			"ask_account": {"currency": "BTC", "balance": "0.5", "locked": "0.0", "avg_buy_price": "90000000"}
		}`)
	})

	chance, err := client.Chance(context.Background(), "KRW-BTC")
	require.NoError(t, err)
	assert.Equal(t, "KRW-BTC", chance.Market)
	assert.InDelta(t, 0.0005, chance.BidFee, 1e-12)
	assert.InDelta(t, 5000, chance.MinBidTotal, 1e-9)
	assert.InDelta(t, 1_000_000, chance.BidAccount.Balance, 1e-9)
	assert.InDelta(t, 0.5, chance.AskAccount.Balance, 1e-12)
	assert.InDelta(t, 90_000_000, chance.AskAccount.AvgBuyPrice, 1e-6)
}

func TestAccountsOmitsQueryHash(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFrom(t, r)
		_, hasHash := claims["query_hash"]
		assert.False(t, hasHash)
		_, _ = io.WriteString(w, `[{"currency":"KRW","balance":"100","locked":"0","avg_buy_price":"0","unit_currency":"KRW"}]`)
	})

	accounts, err := client.Accounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "KRW", accounts[0].Currency)
}

func TestTickersArePublic(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Equal(t, "/ticker", r.URL.Path)
		assert.Equal(t, "KRW-BTC,KRW-ETH", r.URL.Query().Get("markets"))
		_, _ = io.WriteString(w, `[
			{"market":"KRW-BTC","trade_price":95000000,"opening_price":94000000,"high_price":96000000,"low_price":93000000,"timestamp":1735689600000},
			{"market":"KRW-ETH","trade_price":5000000.5,"opening_price":4900000,"high_price":5100000,"low_price":4800000}
		]`)
	})

	tickers, err := client.Tickers(context.Background(), "KRW-BTC", "KRW-ETH")
	require.NoError(t, err)
	require.Len(t, tickers, 2)

	prices := exchange.PriceMap(tickers)
	assert.InDelta(t, 95_000_000, prices["KRW-BTC"], 1e-6)
	assert.InDelta(t, 5_000_000.5, prices["KRW-ETH"], 1e-6)
	assert.Equal(t, time.UnixMilli(1735689600000).UTC(), tickers[0].Timestamp)
}

func TestCandlesPathsAndOrdering(t *testing.T) {
	tests := []struct {
		unit exchange.Granularity
		path string
	}{
		{exchange.Hour1, "/candles/minutes/60"},
		{exchange.Hour4, "/candles/minutes/240"},
		{exchange.Day, "/candles/days"},
	}

	for _, tt := range tests {
		t.Run(tt.unit.String(), func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.path, r.URL.Path)
				assert.Equal(t, "2", r.URL.Query().Get("count"))
				_, _ = io.WriteString(w, `[
					{"candle_date_time_utc":"2025-01-01T01:00:00","opening_price":2,"high_price":3,"low_price":1,"trade_price":2.5,"candle_acc_trade_volume":10},
					{"candle_date_time_utc":"2025-01-01T00:00:00","opening_price":1,"high_price":2,"low_price":0.5,"trade_price":2,"candle_acc_trade_volume":5}
				]`)
			})

			candles, err := client.Candles(context.Background(), "KRW-BTC", tt.unit, 2)
			require.NoError(t, err)
			require.Len(t, candles, 2)
			assert.True(t, candles[0].Time.Before(candles[1].Time))
			assert.InDelta(t, 2.5, candles[1].Close, 1e-12)
			assert.InDelta(t, 5, candles[0].Volume, 1e-12)
		})
	}

	client := NewClient(testAccess, testSecret)
	_, err := client.Candles(context.Background(), "KRW-BTC", exchange.Granularity(7), 1)
	assert.Error(t, err)
}

func TestPlaceOrderSendsSignedBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders", r.URL.Path)
		assert.Empty(t, r.URL.RawQuery)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{
			"market":   "KRW-BTC",
			"side":     "bid",
			"ord_type": "price",
			"price":    "20000.00000000",
		}, body)

		claims := claimsFrom(t, r)
		assert.Equal(t, sha512Hex("market=KRW-BTC&ord_type=price&price=20000.00000000&side=bid"), claims["query_hash"])

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"uuid":"abc","market":"KRW-BTC","created_at":"2025-01-01T09:00:00+09:00","volume":null,"state":"wait"}`)
	})

	handle, err := client.PlaceOrder(context.Background(), exchange.OrderRequest{
		Market: "KRW-BTC",
		Side:   exchange.SideBid,
		Type:   exchange.OrderTypePrice,
		Price:  "20000.00000000",
	})
	require.NoError(t, err)
	assert.Equal(t, "abc", handle.UUID)
	assert.Equal(t, "KRW-BTC", handle.Market)
	assert.Equal(t, 2025, handle.CreatedAt.Year())
}

func TestPlaceOrderRequiresCreated(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"uuid":"abc","market":"KRW-BTC","state":"wait"}`)
	})

	_, err := client.PlaceOrder(context.Background(), exchange.OrderRequest{
		Market: "KRW-BTC",
		Side:   exchange.SideBid,
		Type:   exchange.OrderTypePrice,
		Price:  "20000.00000000",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 200, want 201")

	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}

func TestOrderStatusAndCancel(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc", r.URL.Query().Get("uuid"))
		claims := claimsFrom(t, r)
		assert.Equal(t, sha512Hex("uuid=abc"), claims["query_hash"])

		switch r.Method {
		case http.MethodGet:
			_, _ = io.WriteString(w, `{"uuid":"abc","market":"KRW-BTC","side":"ask","state":"done","executed_volume":"0.3",
				"trades":[{"price":"100","volume":"0.1","funds":"10"},{"price":"110","volume":"0.2","funds":"22"}]}`)
		case http.MethodDelete:
			_, _ = io.WriteString(w, `{"uuid":"abc","market":"KRW-BTC","side":"bid","state":"cancel"}`)
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	})

	status, err := client.Order(context.Background(), "abc")
	require.NoError(t, err)
	assert.True(t, status.Terminal())
	assert.Equal(t, exchange.SideAsk, status.Side)
	assert.InDelta(t, 0.3, status.FilledVolume(), 1e-12)
	assert.InDelta(t, 32.0/0.3, status.AveragePrice(), 1e-9)

	cancelled, err := client.CancelOrder(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, exchange.StateCancel, cancelled.State)
	assert.Zero(t, cancelled.FilledVolume())
}

func TestAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"name":"insufficient_funds_bid","message":"not enough KRW"}}`)
	})

	_, err := client.PlaceOrder(context.Background(), exchange.OrderRequest{Market: "KRW-BTC", Side: exchange.SideBid, Type: exchange.OrderTypePrice, Price: "1"})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "insufficient_funds_bid", apiErr.Name)
	assert.Contains(t, err.Error(), "not enough KRW")
}

func TestSignerRequiresKeys(t *testing.T) {
	_, err := NewSigner("", "").Token("a=b")
	assert.Error(t, err)

	client := NewClient("", "", WithBaseURL("http://127.0.0.1:1"))
	_, err = client.Chance(context.Background(), "KRW-BTC")
	assert.Error(t, err)
}

func TestCanonicalQuery(t *testing.T) {
	assert.Equal(t, "", canonicalQuery(nil))
	assert.Equal(t, "a=1&b=x y&c=3", canonicalQuery(map[string]string{"c": "3", "a": "1", "b": "x y"}))
}

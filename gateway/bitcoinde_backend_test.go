package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"money-printer-go/market"
)

func newTestBitcoindeBackend(t *testing.T, handler http.HandlerFunc) *BitcoindeBackend {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	backend := NewBitcoindeBackend(BitcoindeConfig{
		Key: "key", Secret: "secret", BaseURL: ts.URL,
		FeeLessPrice: 0.004, FeeLessCoin: 0.008,
	}, nil)
	backend.client.HTTPClient = ts.Client()
	backend.client.Limiter = NopLimiter{}
	return backend
}

func TestBitcoindeBackendPicksCheapestFittingOffer(t *testing.T) {
	backend := newTestBitcoindeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "buy", r.URL.Query().Get("type"))
		io.WriteString(w, `{"errors":[],"credits":20,"orders":[
			{"order_id":"A","trading_pair":"btceur","type":"buy","price":30000,"min_amount":0.5,"max_amount":2.0},
			{"order_id":"B","trading_pair":"btceur","type":"buy","price":29900,"min_amount":0.1,"max_amount":1.0},
			{"order_id":"C","trading_pair":"btceur","type":"buy","price":29800,"min_amount":1.0,"max_amount":3.0}
		]}`)
	})

	// 10000 EUR cannot cover C's 1.0 BTC minimum, so B wins despite C being
	// cheaper.
	res := backend.CheapestOfferToBuy(context.Background(), 10000)
	require.True(t, res.OK(), "offer: %v", res.Failure())
	offer := res.Value()
	assert.Equal(t, "B", offer.ID)
	assert.Equal(t, market.Buy, offer.Side)
	// MaxAmount capped by budget: 10000 / 29900.
	assert.InDelta(t, 10000.0/29900.0, offer.MaxAmount, 1e-9)
}

func TestBitcoindeBackendEmptyBookIsRetryable(t *testing.T) {
	backend := newTestBitcoindeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"errors":[],"credits":20,"orders":[]}`)
	})

	res := backend.HighestOfferToSell(context.Background(), 1)
	require.False(t, res.OK())
	assert.True(t, res.Failure().CanRetry)
}

func TestBitcoindeBackendEffectivePrices(t *testing.T) {
	backend := NewBitcoindeBackend(BitcoindeConfig{
		FeeLessPrice: 0.004, FeeLessCoin: 0.008,
	}, nil)

	// Buying: pay 0.4% less EUR, receive 0.8% fewer coins.
	assert.InDelta(t, 100*0.996/0.992, backend.EffectiveBuyPrice(100), 1e-9)
	// Selling: give up coins, counterparty fee shrinks the EUR received.
	assert.InDelta(t, 100*0.996*0.992, backend.EffectiveSellPrice(100), 1e-9)
	// Buy side is always worse than sell side at the same quote.
	assert.Greater(t, backend.EffectiveBuyPrice(100), backend.EffectiveSellPrice(100))
}

func TestBitcoindeBackendTradeHistory(t *testing.T) {
	backend := newTestBitcoindeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("state"))
		io.WriteString(w, `{"errors":[],"credits":20,"trades":[
			{"type":"buy","amount_currency_to_trade":"1.0","volume_currency_to_pay":30000,
			 "fee_currency_to_trade":"0.008","fee_currency_to_pay":0,
			 "successfully_finished_at":"2023-05-01T12:00:00+02:00"}
		]}`)
	})

	to := time.Now()
	res := backend.TradeHistory(context.Background(), to.AddDate(0, 0, -1), to)
	require.True(t, res.OK(), "history: %v", res.Failure())
	trades := res.Value()
	require.Len(t, trades, 1)
	assert.InDelta(t, 0.992, trades[0].TradingAmount, 1e-9)
	assert.InDelta(t, -30000.0, trades[0].BaseAmount, 1e-9)
	assert.Equal(t, 2023, trades[0].Time.Year())
}

func TestBitcoindeBackendTradeHistoryRejectsBadDate(t *testing.T) {
	backend := newTestBitcoindeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"errors":[],"credits":20,"trades":[
			{"type":"buy","amount_currency_to_trade":"1.0","volume_currency_to_pay":30000,
			 "fee_currency_to_trade":"0","fee_currency_to_pay":0,
			 "successfully_finished_at":"yesterday"}
		]}`)
	})

	to := time.Now()
	res := backend.TradeHistory(context.Background(), to.AddDate(0, 0, -1), to)
	require.False(t, res.OK())
	assert.Contains(t, res.Failure().Message, "parse trade date")
}

func TestBitcoindeBackendDryRunExecutesNothing(t *testing.T) {
	var executed bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			executed = true
		}
		io.WriteString(w, `{"errors":[],"credits":20}`)
	}))
	defer ts.Close()

	backend := NewBitcoindeBackend(BitcoindeConfig{
		Key: "key", Secret: "secret", BaseURL: ts.URL, DryRun: true,
	}, nil)
	backend.client.HTTPClient = ts.Client()
	backend.client.Limiter = NopLimiter{}

	offer := market.Offer{ID: "X1", Price: 30000, MinAmount: 0.1, MaxAmount: 1, Side: market.Buy}
	res := backend.ExecutePendingOffer(context.Background(), offer, 0.5)
	require.True(t, res.OK())
	assert.False(t, executed, "dry run must not hit the venue")
}

package market

import (
	"context"
	"time"

	"money-printer-go/result"
)

// Backend is one trading venue's capability implementation. Instances are
// constructed once at startup from credentials and live for the process;
// they are stateless between calls except for their request serializer's
// nonce counter.
//
// Every fallible method returns a result.Result instead of a bare error. A
// failed result means the call had no observable side effect; for the write
// operations this is an explicit obligation on each implementation, not an
// emergent property.
type Backend interface {
	// Name uniquely identifies the venue within a run (e.g. "bitcoin.de").
	Name() string
	// Risk is the venue's risk score; lower means safer. The executor
	// always attempts the higher-risk leg first.
	Risk() int

	TradingCurrency() Code
	BaseCurrency() Code

	// CurrentBuyPrice is the best price at which one unit of trading
	// currency can currently be bought, fees not included.
	CurrentBuyPrice(ctx context.Context) result.Result[float64]
	// CurrentSellPrice is the best price at which one unit of trading
	// currency can currently be sold, fees not included.
	CurrentSellPrice(ctx context.Context) result.Result[float64]

	// EffectiveBuyPrice applies the venue's fee model to a raw buy price.
	// Pure arithmetic: no I/O, never fails.
	EffectiveBuyPrice(price float64) float64
	// EffectiveSellPrice applies the venue's fee model to a raw sell price.
	EffectiveSellPrice(price float64) float64

	// CheapestOfferToBuy returns the cheapest open offer we could fill to
	// buy trading currency. maxSpend bounds the offer by available base
	// currency; zero means unbounded. Fails retryable when the book side
	// is empty.
	CheapestOfferToBuy(ctx context.Context, maxSpend float64) result.Result[Offer]
	// HighestOfferToSell returns the highest open offer we could fill to
	// sell trading currency, bounded by maxAmount (zero = unbounded).
	HighestOfferToSell(ctx context.Context, maxAmount float64) result.Result[Offer]

	// ExecutePendingOffer fills a previously fetched offer for the given
	// amount of trading currency. Must be called at most once per offer
	// and never retries internally.
	ExecutePendingOffer(ctx context.Context, offer Offer, amount float64) result.Result[result.Unit]
	// SetMarketOrder places a venue-native market order. minAmount is the
	// smallest acceptable fill (zero = venue default).
	SetMarketOrder(ctx context.Context, side Side, amount, minAmount float64) result.Result[result.Unit]

	// AvailableTradingCurrency is the spendable trading-currency balance.
	AvailableTradingCurrency(ctx context.Context) result.Result[Amount]
	// AvailableBaseCurrency is the spendable base-currency balance, used
	// to size trades.
	AvailableBaseCurrency(ctx context.Context) result.Result[Amount]

	// TradeHistory returns the account's trades in [from, to] translated
	// into unified records. Reporting only.
	TradeHistory(ctx context.Context, from, to time.Time) result.Result[[]Trade]
}

// SharePair reports whether two backends trade the same currency pair and
// are therefore comparable for arbitrage.
func SharePair(a, b Backend) bool {
	return a.TradingCurrency() == b.TradingCurrency() && a.BaseCurrency() == b.BaseCurrency()
}

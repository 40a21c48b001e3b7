// Package margin computes the fee-adjusted profit margin between an ordered
// pair of market backends.
package margin

import (
	"context"

	"golang.org/x/sync/errgroup"

	"money-printer-go/market"
	"money-printer-go/result"
)

// Between computes (effSell - effBuy) / effBuy for buying on buy and selling
// on sell, each side transformed by its own fee model. Both prices are
// fetched concurrently; the first failure is propagated.
//
// The value is advisory: prices are stale the instant they are read, so the
// executor revalidates against concrete offers before committing anything.
func Between(ctx context.Context, buy, sell market.Backend) result.Result[float64] {
	var buyRes, sellRes result.Result[float64]

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		buyRes = buy.CurrentBuyPrice(ctx)
		return nil
	})
	g.Go(func() error {
		sellRes = sell.CurrentSellPrice(ctx)
		return nil
	})
	_ = g.Wait() // goroutines only write their result slot

	if !buyRes.OK() {
		return result.Err[float64](buyRes.Failure())
	}
	if !sellRes.OK() {
		return result.Err[float64](sellRes.Failure())
	}

	effBuy := buy.EffectiveBuyPrice(buyRes.Value())
	effSell := sell.EffectiveSellPrice(sellRes.Value())
	if effBuy <= 0 {
		return result.Failf[float64](buy.Name(), false, nil,
			"effective buy price %f is not positive", effBuy)
	}
	return result.Ok((effSell - effBuy) / effBuy)
}

// FromOffers computes the margin from two concrete offers instead of quotes,
// using the same per-side fee transforms. The executor uses this during
// revalidation.
func FromOffers(buy market.Backend, buyOffer market.Offer, sell market.Backend, sellOffer market.Offer) result.Result[float64] {
	effBuy := buy.EffectiveBuyPrice(buyOffer.Price)
	effSell := sell.EffectiveSellPrice(sellOffer.Price)
	if effBuy <= 0 {
		return result.Failf[float64](buy.Name(), false, nil,
			"effective buy price %f is not positive", effBuy)
	}
	return result.Ok((effSell - effBuy) / effBuy)
}

// Package report aggregates unified trade records from the venues into a
// balance overview: net flows, average prices and an estimated profit.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"money-printer-go/market"
)

// VenueTotal is the aggregate of one venue's trades in the window.
type VenueTotal struct {
	Venue string
	// Net flows, signed the same way as market.Trade: positive
	// TradingAmount means the venue netted us trading currency.
	TradingAmount float64
	BaseAmount    float64
	FeesInBase    float64
	Buys          int
	Sells         int
}

// Summary is the cross-venue aggregate for a time window.
type Summary struct {
	From, To time.Time
	Venues   []VenueTotal

	NetTradingAmount float64
	NetBaseAmount    float64
	TotalFees        float64

	// AvgBuyPrice is base paid per unit acquired over all buys;
	// AvgSellPrice is base received per unit given up over all sells.
	// Zero when the window has no trades on that side.
	AvgBuyPrice  float64
	AvgSellPrice float64
}

// Build folds per-venue trade lists into a summary. The map key is the
// venue name.
func Build(from, to time.Time, trades map[string][]market.Trade) Summary {
	s := Summary{From: from, To: to}

	var boughtAmount, boughtBase, soldAmount, soldBase float64

	names := make([]string, 0, len(trades))
	for name := range trades {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		vt := VenueTotal{Venue: name}
		for _, t := range trades[name] {
			vt.TradingAmount += t.TradingAmount
			vt.BaseAmount += t.BaseAmount
			vt.FeesInBase += t.FeeInBase
			if t.TradingAmount >= 0 {
				vt.Buys++
				boughtAmount += t.TradingAmount
				boughtBase += -t.BaseAmount
			} else {
				vt.Sells++
				soldAmount += -t.TradingAmount
				soldBase += t.BaseAmount
			}
		}
		s.Venues = append(s.Venues, vt)
		s.NetTradingAmount += vt.TradingAmount
		s.NetBaseAmount += vt.BaseAmount
		s.TotalFees += vt.FeesInBase
	}

	if boughtAmount > 0 {
		s.AvgBuyPrice = boughtBase / boughtAmount
	}
	if soldAmount > 0 {
		s.AvgSellPrice = soldBase / soldAmount
	}
	return s
}

// Collect fetches the window's trade history from every backend and builds
// the summary. One unreachable venue fails the whole report; a partial
// balance is worse than none.
func Collect(ctx context.Context, backends []market.Backend, from, to time.Time) (Summary, error) {
	trades := make(map[string][]market.Trade, len(backends))
	for _, b := range backends {
		res := b.TradeHistory(ctx, from, to)
		if !res.OK() {
			return Summary{}, fmt.Errorf("trade history from %s: %w", b.Name(), res.Failure())
		}
		trades[b.Name()] = res.Value()
	}
	return Build(from, to, trades), nil
}

// Profit estimates the window's profit in base currency, valuing the net
// trading currency flow at refPrice.
func (s Summary) Profit(refPrice float64) float64 {
	return s.NetBaseAmount + s.NetTradingAmount*refPrice
}

// Render formats the summary for the terminal.
func (s Summary) Render(refPrice float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "balance %s .. %s\n", s.From.Format("2006-01-02"), s.To.Format("2006-01-02"))
	for _, v := range s.Venues {
		fmt.Fprintf(&b, "  %-12s %3d buys %3d sells  net %+.8f BTC  %+.2f EUR  fees %.2f EUR\n",
			v.Venue, v.Buys, v.Sells, v.TradingAmount, v.BaseAmount, v.FeesInBase)
	}
	fmt.Fprintf(&b, "  net flow: %+.8f BTC, %+.2f EUR (fees %.2f EUR)\n",
		s.NetTradingAmount, s.NetBaseAmount, s.TotalFees)
	if s.AvgBuyPrice > 0 {
		fmt.Fprintf(&b, "  avg buy price:  %.2f EUR/BTC\n", s.AvgBuyPrice)
	}
	if s.AvgSellPrice > 0 {
		fmt.Fprintf(&b, "  avg sell price: %.2f EUR/BTC\n", s.AvgSellPrice)
	}
	if refPrice > 0 {
		fmt.Fprintf(&b, "  est. profit at %.2f EUR/BTC: %+.2f EUR\n", refPrice, s.Profit(refPrice))
	}
	return b.String()
}

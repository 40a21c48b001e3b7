package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"money-printer-go/infrastructure/logger"
	"money-printer-go/market"
	"money-printer-go/result"
)

// BitcoindeConfig holds everything needed to construct the bitcoin.de
// backend. The fee split is the venue's express-trade model: the buyer pays
// FeeLessPrice less in base currency but receives FeeLessCoin fewer coins.
type BitcoindeConfig struct {
	Key          string
	Secret       string
	BaseURL      string  // empty = production API
	Risk         int     // risk score; bitcoin.de trades settle peer to peer
	FeeLessPrice float64 // e.g. 0.004
	FeeLessCoin  float64 // e.g. 0.008
	DryRun       bool
	RateLimit    float64
	RateBurst    int
}

// BitcoindeBackend implements market.Backend for bitcoin.de. The venue is a
// peer-to-peer marketplace: trades fill against concrete open offers, there
// is no native market order, so SetMarketOrder is emulated by executing the
// best currently open offer.
type BitcoindeBackend struct {
	client       *BitcoindeClient
	risk         int
	feeLessPrice float64
	feeLessCoin  float64
	dryRun       bool
	log          *logger.Logger
}

var _ market.Backend = (*BitcoindeBackend)(nil)

func NewBitcoindeBackend(cfg BitcoindeConfig, log *logger.Logger) *BitcoindeBackend {
	client := NewBitcoindeClient(cfg.Key, cfg.Secret)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	if cfg.RateLimit > 0 {
		client.Limiter = NewTokenBucketLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	if log == nil {
		log = logger.Nop()
	}
	risk := cfg.Risk
	if risk == 0 {
		risk = 5
	}
	return &BitcoindeBackend{
		client:       client,
		risk:         risk,
		feeLessPrice: cfg.FeeLessPrice,
		feeLessCoin:  cfg.FeeLessCoin,
		dryRun:       cfg.DryRun,
		log:          log.WithFields(map[string]interface{}{"backend": "bitcoin.de"}),
	}
}

func (b *BitcoindeBackend) Name() string                  { return "bitcoin.de" }
func (b *BitcoindeBackend) Risk() int                     { return b.risk }
func (b *BitcoindeBackend) TradingCurrency() market.Code  { return market.BTC }
func (b *BitcoindeBackend) BaseCurrency() market.Code     { return market.EUR }

// EffectiveBuyPrice is the base currency actually paid per unit actually
// received: the price discount applies to what we pay, the coin fee to what
// we get.
func (b *BitcoindeBackend) EffectiveBuyPrice(price float64) float64 {
	return price * (1 - b.feeLessPrice) / (1 - b.feeLessCoin)
}

// EffectiveSellPrice mirrors the fee split on the sell side: fewer coins
// credited to the counterparty means less base currency received per unit
// given up.
func (b *BitcoindeBackend) EffectiveSellPrice(price float64) float64 {
	return price * (1 - b.feeLessPrice) * (1 - b.feeLessCoin)
}

type bitcoindeOrder struct {
	OrderID     string  `json:"order_id"`
	TradingPair string  `json:"trading_pair"`
	Type        string  `json:"type"`
	Price       float64 `json:"price"`
	MinAmount   float64 `json:"min_amount"`
	MaxAmount   float64 `json:"max_amount"`
}

type showOrderbookResponse struct {
	Orders []bitcoindeOrder `json:"orders"`
}

func (b *BitcoindeBackend) fetchOrders(ctx context.Context, orderType string) ([]bitcoindeOrder, error) {
	params := url.Values{}
	params.Set("type", orderType)
	params.Set("trading_pair", "btceur")
	params.Set("only_express_orders", "1")
	var resp showOrderbookResponse
	if err := b.client.Get(ctx, "orders", params, &resp); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

func (b *BitcoindeBackend) CurrentBuyPrice(ctx context.Context) result.Result[float64] {
	return result.Map(b.CheapestOfferToBuy(ctx, 0), func(o market.Offer) float64 { return o.Price })
}

func (b *BitcoindeBackend) CurrentSellPrice(ctx context.Context) result.Result[float64] {
	return result.Map(b.HighestOfferToSell(ctx, 0), func(o market.Offer) float64 { return o.Price })
}

// CheapestOfferToBuy scans the open buy-side orderbook for the cheapest
// offer whose minimum fill fits into maxSpend (0 = unbounded).
func (b *BitcoindeBackend) CheapestOfferToBuy(ctx context.Context, maxSpend float64) result.Result[market.Offer] {
	orders, err := b.fetchOrders(ctx, "buy")
	if err != nil {
		return failed[market.Offer](b.Name(), err)
	}
	var best *bitcoindeOrder
	for i := range orders {
		o := &orders[i]
		if maxSpend > 0 && o.Price*o.MinAmount > maxSpend {
			continue
		}
		if best == nil || o.Price < best.Price {
			best = o
		}
	}
	if best == nil {
		return failed[market.Offer](b.Name(), fmt.Errorf("buy side: %w", ErrEmptyBook))
	}
	return result.Ok(offerFromOrder(best, market.Buy, maxSpend))
}

// HighestOfferToSell scans the sell-side orderbook for the best offer whose
// minimum fill fits into maxAmount (0 = unbounded).
func (b *BitcoindeBackend) HighestOfferToSell(ctx context.Context, maxAmount float64) result.Result[market.Offer] {
	orders, err := b.fetchOrders(ctx, "sell")
	if err != nil {
		return failed[market.Offer](b.Name(), err)
	}
	var best *bitcoindeOrder
	for i := range orders {
		o := &orders[i]
		if maxAmount > 0 && o.MinAmount > maxAmount {
			continue
		}
		if best == nil || o.Price > best.Price {
			best = o
		}
	}
	if best == nil {
		return failed[market.Offer](b.Name(), fmt.Errorf("sell side: %w", ErrEmptyBook))
	}
	return result.Ok(offerFromOrder(best, market.Sell, 0))
}

func offerFromOrder(o *bitcoindeOrder, side market.Side, maxSpend float64) market.Offer {
	maxAmount := o.MaxAmount
	if side == market.Buy && maxSpend > 0 && o.Price > 0 {
		if limit := maxSpend / o.Price; limit < maxAmount {
			maxAmount = limit
		}
	}
	return market.Offer{
		ID:        o.OrderID,
		MinAmount: o.MinAmount,
		MaxAmount: maxAmount,
		Price:     o.Price,
		Time:      time.Now(),
		Side:      side,
	}
}

// ExecutePendingOffer fills a previously fetched offer. Never retried here:
// a failure leaves the offer untouched on the venue.
func (b *BitcoindeBackend) ExecutePendingOffer(ctx context.Context, offer market.Offer, amount float64) result.Result[result.Unit] {
	if offer.ID == "" {
		return result.Failf[result.Unit](b.Name(), false, nil, "offer has no order id")
	}
	if b.dryRun {
		b.log.LogLeg("dry_run_execute_offer", map[string]interface{}{
			"order_id": offer.ID, "amount": amount, "price": offer.Price,
		})
		return result.Ok(result.Unit{})
	}
	params := url.Values{}
	params.Set("type", string(offer.Side))
	params.Set("amount", strconv.FormatFloat(amount, 'f', 8, 64))
	if err := b.client.Post(ctx, "trades/"+offer.ID, params, nil); err != nil {
		return failed[result.Unit](b.Name(), err)
	}
	return result.Ok(result.Unit{})
}

// SetMarketOrder emulates a market order by executing the best open offer
// for the requested side.
func (b *BitcoindeBackend) SetMarketOrder(ctx context.Context, side market.Side, amount, minAmount float64) result.Result[result.Unit] {
	var offerRes result.Result[market.Offer]
	if side == market.Buy {
		offerRes = b.CheapestOfferToBuy(ctx, 0)
	} else {
		offerRes = b.HighestOfferToSell(ctx, amount)
	}
	return result.Chain(offerRes, func(offer market.Offer) result.Result[result.Unit] {
		if amount < offer.MinAmount || amount > offer.MaxAmount {
			return result.Failf[result.Unit](b.Name(), true, nil,
				"best offer cannot fill %.8f (bounds %.8f..%.8f)", amount, offer.MinAmount, offer.MaxAmount)
		}
		return b.ExecutePendingOffer(ctx, offer, amount)
	})
}

type bitcoindeAccountResponse struct {
	Data struct {
		Balances struct {
			BTC struct {
				AvailableAmount string `json:"available_amount"`
			} `json:"btc"`
			EUR struct {
				AvailableAmount string `json:"available_amount"`
			} `json:"eur"`
		} `json:"balances"`
	} `json:"data"`
}

func (b *BitcoindeBackend) balances(ctx context.Context) (btc, eur float64, err error) {
	var resp bitcoindeAccountResponse
	if err := b.client.Get(ctx, "account", nil, &resp); err != nil {
		return 0, 0, err
	}
	btc, err = strconv.ParseFloat(resp.Data.Balances.BTC.AvailableAmount, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse btc balance: %w", err)
	}
	eur, err = strconv.ParseFloat(resp.Data.Balances.EUR.AvailableAmount, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse eur balance: %w", err)
	}
	return btc, eur, nil
}

func (b *BitcoindeBackend) AvailableTradingCurrency(ctx context.Context) result.Result[market.Amount] {
	btc, _, err := b.balances(ctx)
	if err != nil {
		return failed[market.Amount](b.Name(), err)
	}
	return result.Ok(market.Amount{Value: btc, Code: market.BTC})
}

func (b *BitcoindeBackend) AvailableBaseCurrency(ctx context.Context) result.Result[market.Amount] {
	_, eur, err := b.balances(ctx)
	if err != nil {
		return failed[market.Amount](b.Name(), err)
	}
	return result.Ok(market.Amount{Value: eur, Code: market.EUR})
}

type bitcoindeTradeRecord struct {
	Type   string  `json:"type"`
	Amount string  `json:"amount_currency_to_trade"`
	Volume float64 `json:"volume_currency_to_pay"`
	FeeBTC string  `json:"fee_currency_to_trade"`
	FeeEUR float64 `json:"fee_currency_to_pay"`
	Date   string  `json:"successfully_finished_at"`
}

type showMyTradesResponse struct {
	Trades []bitcoindeTradeRecord `json:"trades"`
}

// TradeHistory translates finished bitcoin.de trades into unified records.
func (b *BitcoindeBackend) TradeHistory(ctx context.Context, from, to time.Time) result.Result[[]market.Trade] {
	params := url.Values{}
	params.Set("state", "1") // successfully finished
	params.Set("date_start", from.Format("2006-01-02T15:04:05-07:00"))
	params.Set("date_end", to.Format("2006-01-02T15:04:05-07:00"))
	var resp showMyTradesResponse
	if err := b.client.Get(ctx, "trades", params, &resp); err != nil {
		return failed[[]market.Trade](b.Name(), err)
	}

	trades := make([]market.Trade, 0, len(resp.Trades))
	for _, t := range resp.Trades {
		amount, err := strconv.ParseFloat(t.Amount, 64)
		if err != nil {
			return failed[[]market.Trade](b.Name(), fmt.Errorf("parse trade amount: %w", err))
		}
		feeBTC, err := strconv.ParseFloat(t.FeeBTC, 64)
		if err != nil {
			return failed[[]market.Trade](b.Name(), fmt.Errorf("parse trade fee: %w", err))
		}
		mult := 1.0
		if t.Type == "sell" {
			mult = -1
		}
		when, err := time.Parse("2006-01-02T15:04:05-07:00", t.Date)
		if err != nil {
			return failed[[]market.Trade](b.Name(), fmt.Errorf("parse trade date: %w", err))
		}
		trades = append(trades, market.Trade{
			TradingAmount: mult * (amount - feeBTC),
			BaseAmount:    -mult * (t.Volume - t.FeeEUR),
			FeeInBase:     t.FeeEUR,
			Time:          when,
		})
	}
	return result.Ok(trades)
}

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"money-printer-go/infrastructure/logger"
	"money-printer-go/market"
	"money-printer-go/result"
)

const (
	krakenPair = "XXBTZEUR"
	// Smallest order volume Kraken accepts for BTC pairs.
	krakenMinVolume = 0.0001
)

// KrakenConfig holds everything needed to construct the Kraken backend.
type KrakenConfig struct {
	Key       string
	Secret    string
	BaseURL   string  // empty = production API
	Risk      int     // risk score; exchange-held funds, instant settlement
	Fee       float64 // flat taker fee, e.g. 0.002
	DryRun    bool
	RateLimit float64
	RateBurst int
}

// KrakenBackend implements market.Backend for kraken.com. A central-limit
// order book: offers come from the public depth feed and orders are placed
// through AddOrder.
type KrakenBackend struct {
	client *KrakenClient
	risk   int
	fee    float64
	dryRun bool
	log    *logger.Logger
}

var _ market.Backend = (*KrakenBackend)(nil)

func NewKrakenBackend(cfg KrakenConfig, log *logger.Logger) *KrakenBackend {
	client := NewKrakenClient(cfg.Key, cfg.Secret)
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
		risk = 1
	}
	return &KrakenBackend{
		client: client,
		risk:   risk,
		fee:    cfg.Fee,
		dryRun: cfg.DryRun,
		log:    log.WithFields(map[string]interface{}{"backend": "kraken.com"}),
	}
}

func (k *KrakenBackend) Name() string                 { return "kraken.com" }
func (k *KrakenBackend) Risk() int                    { return k.risk }
func (k *KrakenBackend) TradingCurrency() market.Code { return market.BTC }
func (k *KrakenBackend) BaseCurrency() market.Code    { return market.EUR }

func (k *KrakenBackend) EffectiveBuyPrice(price float64) float64 {
	return price * (1 + k.fee)
}

func (k *KrakenBackend) EffectiveSellPrice(price float64) float64 {
	return price * (1 - k.fee)
}

type krakenTicker struct {
	Ask []string `json:"a"` // price, whole lot volume, lot volume
	Bid []string `json:"b"`
}

func (k *KrakenBackend) ticker(ctx context.Context) (ask, bid float64, err error) {
	params := url.Values{}
	params.Set("pair", krakenPair)
	resp := map[string]krakenTicker{}
	if err := k.client.Public(ctx, "Ticker", params, &resp); err != nil {
		return 0, 0, err
	}
	t, ok := resp[krakenPair]
	if !ok || len(t.Ask) == 0 || len(t.Bid) == 0 {
		return 0, 0, fmt.Errorf("ticker missing pair %s", krakenPair)
	}
	if ask, err = strconv.ParseFloat(t.Ask[0], 64); err != nil {
		return 0, 0, fmt.Errorf("parse ask: %w", err)
	}
	if bid, err = strconv.ParseFloat(t.Bid[0], 64); err != nil {
		return 0, 0, fmt.Errorf("parse bid: %w", err)
	}
	return ask, bid, nil
}

func (k *KrakenBackend) CurrentBuyPrice(ctx context.Context) result.Result[float64] {
	ask, _, err := k.ticker(ctx)
	if err != nil {
		return failed[float64](k.Name(), err)
	}
	return result.Ok(ask)
}

func (k *KrakenBackend) CurrentSellPrice(ctx context.Context) result.Result[float64] {
	_, bid, err := k.ticker(ctx)
	if err != nil {
		return failed[float64](k.Name(), err)
	}
	return result.Ok(bid)
}

type krakenDepth struct {
	Asks [][3]json.Number `json:"asks"`
	Bids [][3]json.Number `json:"bids"`
}

func (k *KrakenBackend) depth(ctx context.Context) (*krakenDepth, error) {
	params := url.Values{}
	params.Set("pair", krakenPair)
	params.Set("count", "10")
	resp := map[string]krakenDepth{}
	if err := k.client.Public(ctx, "Depth", params, &resp); err != nil {
		return nil, err
	}
	d, ok := resp[krakenPair]
	if !ok {
		return nil, fmt.Errorf("depth missing pair %s", krakenPair)
	}
	return &d, nil
}

func levelToOffer(level [3]json.Number, side market.Side) (market.Offer, error) {
	price, err := level[0].Float64()
	if err != nil {
		return market.Offer{}, fmt.Errorf("parse depth price: %w", err)
	}
	volume, err := level[1].Float64()
	if err != nil {
		return market.Offer{}, fmt.Errorf("parse depth volume: %w", err)
	}
	ts, _ := level[2].Int64()
	return market.Offer{
		MinAmount: krakenMinVolume,
		MaxAmount: volume,
		Price:     price,
		Time:      time.Unix(ts, 0),
		Side:      side,
	}, nil
}

// CheapestOfferToBuy returns the best ask, bounded by maxSpend.
func (k *KrakenBackend) CheapestOfferToBuy(ctx context.Context, maxSpend float64) result.Result[market.Offer] {
	d, err := k.depth(ctx)
	if err != nil {
		return failed[market.Offer](k.Name(), err)
	}
	if len(d.Asks) == 0 {
		return failed[market.Offer](k.Name(), fmt.Errorf("asks: %w", ErrEmptyBook))
	}
	offer, err := levelToOffer(d.Asks[0], market.Buy)
	if err != nil {
		return failed[market.Offer](k.Name(), err)
	}
	if maxSpend > 0 && offer.Price > 0 {
		if limit := maxSpend / offer.Price; limit < offer.MaxAmount {
			offer.MaxAmount = limit
		}
	}
	return result.Ok(offer)
}

// HighestOfferToSell returns the best bid, bounded by maxAmount.
func (k *KrakenBackend) HighestOfferToSell(ctx context.Context, maxAmount float64) result.Result[market.Offer] {
	d, err := k.depth(ctx)
	if err != nil {
		return failed[market.Offer](k.Name(), err)
	}
	if len(d.Bids) == 0 {
		return failed[market.Offer](k.Name(), fmt.Errorf("bids: %w", ErrEmptyBook))
	}
	offer, err := levelToOffer(d.Bids[0], market.Sell)
	if err != nil {
		return failed[market.Offer](k.Name(), err)
	}
	if maxAmount > 0 && maxAmount < offer.MaxAmount {
		offer.MaxAmount = maxAmount
	}
	return result.Ok(offer)
}

func (k *KrakenBackend) addOrder(ctx context.Context, side market.Side, orderType string, amount float64, price float64) error {
	params := url.Values{}
	params.Set("pair", krakenPair)
	params.Set("type", string(side))
	params.Set("ordertype", orderType)
	params.Set("volume", strconv.FormatFloat(amount, 'f', 8, 64))
	if orderType == "limit" {
		params.Set("price", strconv.FormatFloat(price, 'f', 1, 64))
	}
	return k.client.Private(ctx, "AddOrder", params, nil)
}

// ExecutePendingOffer places a limit order at the offer's price, which on a
// central book fills against the quoted level or better.
func (k *KrakenBackend) ExecutePendingOffer(ctx context.Context, offer market.Offer, amount float64) result.Result[result.Unit] {
	if k.dryRun {
		k.log.LogLeg("dry_run_execute_offer", map[string]interface{}{
			"amount": amount, "price": offer.Price, "side": string(offer.Side),
		})
		return result.Ok(result.Unit{})
	}
	if err := k.addOrder(ctx, offer.Side, "limit", amount, offer.Price); err != nil {
		return failed[result.Unit](k.Name(), err)
	}
	return result.Ok(result.Unit{})
}

// SetMarketOrder places a venue-native market order. Kraken has no minimum
// fill parameter; minAmount below the venue minimum is rejected locally.
func (k *KrakenBackend) SetMarketOrder(ctx context.Context, side market.Side, amount, minAmount float64) result.Result[result.Unit] {
	if amount < krakenMinVolume {
		return result.Failf[result.Unit](k.Name(), false, nil,
			"amount %.8f below venue minimum %.4f", amount, krakenMinVolume)
	}
	if k.dryRun {
		k.log.LogLeg("dry_run_market_order", map[string]interface{}{
			"amount": amount, "side": string(side),
		})
		return result.Ok(result.Unit{})
	}
	if err := k.addOrder(ctx, side, "market", amount, 0); err != nil {
		return failed[result.Unit](k.Name(), err)
	}
	return result.Ok(result.Unit{})
}

func (k *KrakenBackend) AvailableTradingCurrency(ctx context.Context) result.Result[market.Amount] {
	v, err := k.balance(ctx, "XXBT")
	if err != nil {
		return failed[market.Amount](k.Name(), err)
	}
	return result.Ok(market.Amount{Value: v, Code: market.BTC})
}

func (k *KrakenBackend) AvailableBaseCurrency(ctx context.Context) result.Result[market.Amount] {
	v, err := k.balance(ctx, "ZEUR")
	if err != nil {
		return failed[market.Amount](k.Name(), err)
	}
	return result.Ok(market.Amount{Value: v, Code: market.EUR})
}

func (k *KrakenBackend) balance(ctx context.Context, asset string) (float64, error) {
	resp := map[string]string{}
	if err := k.client.Private(ctx, "Balance", nil, &resp); err != nil {
		return 0, err
	}
	raw, ok := resp[asset]
	if !ok {
		return 0, nil // asset never touched on this account
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s balance: %w", asset, err)
	}
	return v, nil
}

type krakenTradeRecord struct {
	Pair  string  `json:"pair"`
	Type  string  `json:"type"`
	Price string  `json:"price"`
	Cost  string  `json:"cost"`
	Fee   string  `json:"fee"`
	Vol   string  `json:"vol"`
	Time  float64 `json:"time"`
}

type krakenTradesHistory struct {
	Trades map[string]krakenTradeRecord `json:"trades"`
	Count  int                          `json:"count"`
}

// TradeHistory translates the account's Kraken trades into unified records.
func (k *KrakenBackend) TradeHistory(ctx context.Context, from, to time.Time) result.Result[[]market.Trade] {
	params := url.Values{}
	params.Set("start", strconv.FormatInt(from.Unix(), 10))
	params.Set("end", strconv.FormatInt(to.Unix(), 10))
	var resp krakenTradesHistory
	if err := k.client.Private(ctx, "TradesHistory", params, &resp); err != nil {
		return failed[[]market.Trade](k.Name(), err)
	}

	trades := make([]market.Trade, 0, len(resp.Trades))
	for _, t := range resp.Trades {
		if t.Pair != krakenPair {
			continue
		}
		vol, err := strconv.ParseFloat(t.Vol, 64)
		if err != nil {
			return failed[[]market.Trade](k.Name(), fmt.Errorf("parse trade volume: %w", err))
		}
		cost, err := strconv.ParseFloat(t.Cost, 64)
		if err != nil {
			return failed[[]market.Trade](k.Name(), fmt.Errorf("parse trade cost: %w", err))
		}
		fee, err := strconv.ParseFloat(t.Fee, 64)
		if err != nil {
			return failed[[]market.Trade](k.Name(), fmt.Errorf("parse trade fee: %w", err))
		}
		mult := 1.0
		if t.Type == "sell" {
			mult = -1
		}
		sec, frac := int64(t.Time), t.Time-float64(int64(t.Time))
		trades = append(trades, market.Trade{
			TradingAmount: mult * vol,
			BaseAmount:    -mult*cost - fee,
			FeeInBase:     fee,
			Time:          time.Unix(sec, int64(frac*1e9)),
		})
	}
	return result.Ok(trades)
}

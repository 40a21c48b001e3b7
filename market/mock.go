package market

import (
	"context"
	"sync"
	"time"

	"money-printer-go/result"
)

// MarketOrderCall records one SetMarketOrder invocation on a MockBackend.
type MarketOrderCall struct {
	Side      Side
	Amount    float64
	MinAmount float64
}

// ExecutedOfferCall records one ExecutePendingOffer invocation.
type ExecutedOfferCall struct {
	Offer  Offer
	Amount float64
}

// MockBackend is a scriptable Backend for tests. Zero value is usable:
// it trades BTC/EUR under the name "mock" with no fees. Set a *Fail field
// to make the corresponding operation return that failure.
type MockBackend struct {
	BackendName string
	RiskScore   int
	Trading     Code
	Base        Code

	BuyPrice      float64
	SellPrice     float64
	BuyPriceFail  *result.Failure
	SellPriceFail *result.Failure

	// Fee factors applied by the effective price transforms: buying costs
	// (1+BuyFee)x the raw price, selling yields (1-SellFee)x.
	BuyFee  float64
	SellFee float64

	BuyOffer      Offer
	SellOffer     Offer
	BuyOfferFail  *result.Failure
	SellOfferFail *result.Failure

	TradingBalance float64
	BaseBalance    float64
	BalanceFail    *result.Failure

	ExecuteFail     *result.Failure
	MarketOrderFail *result.Failure

	Trades []Trade

	mu           sync.Mutex
	Executed     []ExecutedOfferCall
	MarketOrders []MarketOrderCall
	Calls        []string
}

var _ Backend = (*MockBackend)(nil)

func (m *MockBackend) record(call string) {
	m.mu.Lock()
	m.Calls = append(m.Calls, call)
	m.mu.Unlock()
}

func (m *MockBackend) Name() string {
	if m.BackendName == "" {
		return "mock"
	}
	return m.BackendName
}

func (m *MockBackend) Risk() int { return m.RiskScore }

func (m *MockBackend) TradingCurrency() Code {
	if m.Trading == "" {
		return BTC
	}
	return m.Trading
}

func (m *MockBackend) BaseCurrency() Code {
	if m.Base == "" {
		return EUR
	}
	return m.Base
}

func (m *MockBackend) CurrentBuyPrice(ctx context.Context) result.Result[float64] {
	m.record("CurrentBuyPrice")
	if m.BuyPriceFail != nil {
		return result.Err[float64](m.BuyPriceFail)
	}
	return result.Ok(m.BuyPrice)
}

func (m *MockBackend) CurrentSellPrice(ctx context.Context) result.Result[float64] {
	m.record("CurrentSellPrice")
	if m.SellPriceFail != nil {
		return result.Err[float64](m.SellPriceFail)
	}
	return result.Ok(m.SellPrice)
}

func (m *MockBackend) EffectiveBuyPrice(price float64) float64 {
	return price * (1 + m.BuyFee)
}

func (m *MockBackend) EffectiveSellPrice(price float64) float64 {
	return price * (1 - m.SellFee)
}

func (m *MockBackend) CheapestOfferToBuy(ctx context.Context, maxSpend float64) result.Result[Offer] {
	m.record("CheapestOfferToBuy")
	if m.BuyOfferFail != nil {
		return result.Err[Offer](m.BuyOfferFail)
	}
	offer := m.BuyOffer
	if offer.Price == 0 {
		offer = Offer{Price: m.BuyPrice, MaxAmount: 1e9, Time: time.Now(), Side: Buy}
	}
	return result.Ok(offer)
}

func (m *MockBackend) HighestOfferToSell(ctx context.Context, maxAmount float64) result.Result[Offer] {
	m.record("HighestOfferToSell")
	if m.SellOfferFail != nil {
		return result.Err[Offer](m.SellOfferFail)
	}
	offer := m.SellOffer
	if offer.Price == 0 {
		offer = Offer{Price: m.SellPrice, MaxAmount: 1e9, Time: time.Now(), Side: Sell}
	}
	return result.Ok(offer)
}

func (m *MockBackend) ExecutePendingOffer(ctx context.Context, offer Offer, amount float64) result.Result[result.Unit] {
	m.record("ExecutePendingOffer")
	if m.ExecuteFail != nil {
		return result.Err[result.Unit](m.ExecuteFail)
	}
	m.mu.Lock()
	m.Executed = append(m.Executed, ExecutedOfferCall{Offer: offer, Amount: amount})
	m.mu.Unlock()
	return result.Ok(result.Unit{})
}

func (m *MockBackend) SetMarketOrder(ctx context.Context, side Side, amount, minAmount float64) result.Result[result.Unit] {
	m.record("SetMarketOrder")
	if m.MarketOrderFail != nil {
		return result.Err[result.Unit](m.MarketOrderFail)
	}
	m.mu.Lock()
	m.MarketOrders = append(m.MarketOrders, MarketOrderCall{Side: side, Amount: amount, MinAmount: minAmount})
	m.mu.Unlock()
	return result.Ok(result.Unit{})
}

func (m *MockBackend) AvailableTradingCurrency(ctx context.Context) result.Result[Amount] {
	m.record("AvailableTradingCurrency")
	if m.BalanceFail != nil {
		return result.Err[Amount](m.BalanceFail)
	}
	return result.Ok(Amount{Value: m.TradingBalance, Code: m.TradingCurrency()})
}

func (m *MockBackend) AvailableBaseCurrency(ctx context.Context) result.Result[Amount] {
	m.record("AvailableBaseCurrency")
	if m.BalanceFail != nil {
		return result.Err[Amount](m.BalanceFail)
	}
	return result.Ok(Amount{Value: m.BaseBalance, Code: m.BaseCurrency()})
}

func (m *MockBackend) TradeHistory(ctx context.Context, from, to time.Time) result.Result[[]Trade] {
	m.record("TradeHistory")
	return result.Ok(m.Trades)
}

// CallCount returns how often the named method was invoked.
func (m *MockBackend) CallCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c == name {
			n++
		}
	}
	return n
}

// Package market defines the capability contract every trading venue
// implements, plus the value types shared by the scanner and executor.
package market

import (
	"errors"
	"fmt"
	"time"
)

// Code identifies a currency (e.g. "BTC", "EUR").
type Code string

const (
	BTC Code = "BTC"
	EUR Code = "EUR"
)

// Side of an order or offer, from our point of view.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// ErrCurrencyMismatch is returned by Amount arithmetic across currencies.
var ErrCurrencyMismatch = errors.New("currency code mismatch")

// Amount pairs a value with its currency code. The tag is validated at
// construction and arithmetic is only defined between matching tags; this
// replaces ad-hoc bare floats for anything that leaves a single function.
type Amount struct {
	Value float64
	Code  Code
}

// NewAmount builds a tagged amount. The code is required.
func NewAmount(v float64, code Code) (Amount, error) {
	if code == "" {
		return Amount{}, errors.New("amount requires a currency code")
	}
	return Amount{Value: v, Code: code}, nil
}

// Add returns a+b, failing on mismatched currency codes.
func (a Amount) Add(b Amount) (Amount, error) {
	if a.Code != b.Code {
		return Amount{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, a.Code, b.Code)
	}
	return Amount{Value: a.Value + b.Value, Code: a.Code}, nil
}

// Sub returns a-b, failing on mismatched currency codes.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a.Code != b.Code {
		return Amount{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, a.Code, b.Code)
	}
	return Amount{Value: a.Value - b.Value, Code: a.Code}, nil
}

func (a Amount) String() string {
	return fmt.Sprintf("%.8f %s", a.Value, a.Code)
}

// Offer is a concrete, fillable, point-in-time quote from a venue's order
// book. Immutable once returned; consumed within one scan/trade cycle.
type Offer struct {
	ID        string    // venue order id, empty when the venue has none
	MinAmount float64   // smallest fillable amount, in trading currency
	MaxAmount float64   // largest fillable amount, in trading currency
	Price     float64   // base currency per unit of trading currency
	Time      time.Time // when the venue reported the offer
	Side      Side      // side we would take when filling it
}

// Trade is the unified record a venue-specific trade translates into.
// TradingAmount is signed: positive means the account acquired trading
// currency. Used for aggregation and reporting only, never by execution.
type Trade struct {
	TradingAmount float64 // trading currency delta, net of trading-side fees
	BaseAmount    float64 // base currency delta, net of base-side fees
	FeeInBase     float64 // fees paid, expressed in base currency
	Time          time.Time
}

package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"money-printer-go/infrastructure/logger"
)

const (
	bitcoindeWSEndpoint = "wss://ws.bitcoin.de/market"

	wsReadTimeout      = 90 * time.Second
	wsInitialBackoff   = time.Second
	wsMaxBackoff       = 2 * time.Minute
	wsPingInterval     = 30 * time.Second
	wsHandshakeTimeout = 10 * time.Second
)

// OrderEvent is one orderbook change pushed by the venue.
type OrderEvent struct {
	Event       string  `json:"event"` // add_order or remove_order
	OrderID     string  `json:"order_id"`
	TradingPair string  `json:"trading_pair"`
	OrderType   string  `json:"order_type"`
	Price       float64 `json:"price,string"`
	MinAmount   float64 `json:"min_amount,string"`
	MaxAmount   float64 `json:"max_amount,string"`
}

// BitcoindeFeed streams orderbook changes over the venue websocket. It is
// purely an accelerant: every event nudges the scanner via OnEvent, the
// scanner still fetches authoritative state over REST before acting.
type BitcoindeFeed struct {
	Endpoint string
	Dialer   *websocket.Dialer

	// OnEvent is invoked for every btceur orderbook change. Must not block.
	OnEvent func(OrderEvent)

	log *logger.Logger
}

func NewBitcoindeFeed(log *logger.Logger) *BitcoindeFeed {
	if log == nil {
		log = logger.Nop()
	}
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = wsHandshakeTimeout
	return &BitcoindeFeed{
		Endpoint: bitcoindeWSEndpoint,
		Dialer:   &dialer,
		log:      log.WithFields(map[string]interface{}{"feed": "bitcoin.de-ws"}),
	}
}

// Run connects and reads until ctx is canceled, reconnecting with capped
// exponential backoff on any error. The feed never fails the caller.
func (f *BitcoindeFeed) Run(ctx context.Context) error {
	backoff := wsInitialBackoff
	for {
		err := f.readLoop(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.log.LogError(err, map[string]interface{}{"reconnect_in": backoff.String()})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > wsMaxBackoff {
			backoff = wsMaxBackoff
		}
	}
}

func (f *BitcoindeFeed) readLoop(ctx context.Context) error {
	conn, _, err := f.Dialer.DialContext(ctx, f.Endpoint, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	f.log.Info("websocket connected")

	// Reader unblocks on cancel via forced close.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})
	go f.pingLoop(ctx, conn, done)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(wsReadTimeout)); err != nil {
			return err
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handle(message)
	}
}

func (f *BitcoindeFeed) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(wsHandshakeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (f *BitcoindeFeed) handle(message []byte) {
	var ev OrderEvent
	if err := json.Unmarshal(message, &ev); err != nil {
		// Heartbeats and unknown frames are fine to drop.
		return
	}
	if ev.TradingPair != "btceur" {
		return
	}
	switch ev.Event {
	case "add_order", "remove_order":
		if f.OnEvent != nil {
			f.OnEvent(ev)
		}
	}
}

// Package feed provides market stream implementations: a WebSocket client
// aggregating raw trade frames into tick snapshots, and a simulated random
// walk for runs without an upstream data collaborator.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"AlgoArena/internal/domain/models"
	drepo "AlgoArena/internal/domain/repository"
	"AlgoArena/pkg/logger"
)

// WSClient is a MarketStream backed by an upstream trade WebSocket. Raw
// per-trade frames are folded into per-symbol OHLV buckets and flushed as
// one MarketTick per aggregation interval.
type WSClient struct {
	url            string
	symbols        []string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	flushInterval  time.Duration
	log            *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	buckets map[string]*bucket
}

type bucket struct {
	price  float64
	high   float64
	low    float64
	volume float64
	dirty  bool
}

func NewWSClient(url string, symbols []string, reconnectDelay, pingInterval time.Duration, log *logger.Logger) drepo.MarketStream {
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &WSClient{
		url:            url,
		symbols:        symbols,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		flushInterval:  time.Second,
		log:            log,
		buckets:        make(map[string]*bucket),
	}
}

// Connect dials the upstream and subscribes to every configured symbol.
func (c *WSClient) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("feed connect: %w", err)
	}
	for _, s := range c.symbols {
		msg := map[string]string{"type": "subscribe", "symbol": s}
		if err := conn.WriteJSON(msg); err != nil {
			_ = conn.Close()
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.log.Info("market feed connected", logger.String("url", c.url), logger.Strings("symbols", c.symbols))
	return nil
}

type wsTrade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	V float64 `json:"v"`
	T int64   `json:"t"` // ms
}

type wsFrame struct {
	Type string    `json:"type"`
	Data []wsTrade `json:"data"`
}

// Read streams aggregated ticks and errors.
func (c *WSClient) Read(ctx context.Context) (<-chan *models.MarketTick, <-chan error) {
	ticks := make(chan *models.MarketTick, 64)
	errs := make(chan error, 1)

	go c.pingLoop(ctx)
	go c.flushLoop(ctx, ticks)
	go c.readLoop(ctx, errs)

	return ticks, errs
}

func (c *WSClient) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn != nil {
				_ = conn.WriteMessage(websocket.PingMessage, nil)
			}
		}
	}
}

func (c *WSClient) readLoop(ctx context.Context, errs chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			select {
			case errs <- fmt.Errorf("feed connection lost"):
			default:
			}
			time.Sleep(c.reconnectDelay)
			continue
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case errs <- fmt.Errorf("feed read: %w", err):
			default:
			}
			time.Sleep(c.reconnectDelay)
			continue
		}

		var frame wsFrame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Type != "trade" {
			// Non-trade frames (acks, pings) are expected noise.
			continue
		}
		c.fold(frame.Data)
	}
}

// fold merges raw trades into the per-symbol buckets.
func (c *WSClient) fold(trades []wsTrade) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range trades {
		if t.P <= 0 {
			continue
		}
		b, ok := c.buckets[t.S]
		if !ok {
			b = &bucket{}
			c.buckets[t.S] = b
		}
		b.price = t.P
		if !b.dirty || t.P > b.high {
			b.high = t.P
		}
		if !b.dirty || t.P < b.low {
			b.low = t.P
		}
		b.volume += t.V
		b.dirty = true
	}
}

// flushLoop emits one MarketTick per interval covering every symbol that has
// traded at least once. Volume resets per flush; last price, high and low
// carry until new trades arrive.
func (c *WSClient) flushLoop(ctx context.Context, ticks chan<- *models.MarketTick) {
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			close(ticks)
			return
		case now := <-ticker.C:
			mt := c.flush(now)
			if mt == nil {
				continue
			}
			select {
			case ticks <- mt:
			default:
				// Drop on backpressure; the engine only wants the latest.
			}
		}
	}
}

func (c *WSClient) flush(now time.Time) *models.MarketTick {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buckets) == 0 {
		return nil
	}
	symbols := make(map[string]models.SymbolTick, len(c.buckets))
	for sym, b := range c.buckets {
		symbols[sym] = models.SymbolTick{
			Symbol: sym,
			Price:  b.price,
			Volume: b.volume,
			High:   b.high,
			Low:    b.low,
		}
		b.volume = 0
		b.high = b.price
		b.low = b.price
		b.dirty = false
	}
	return &models.MarketTick{Timestamp: now, Symbols: symbols}
}

// Reconnect closes and re-dials after the configured delay.
func (c *WSClient) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.reconnectDelay):
	}
	return c.Connect(ctx)
}

// Close closes the connection.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// IsConnected reports the connection status.
func (c *WSClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

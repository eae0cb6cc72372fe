package finnhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"SignalFusion/internal/domain/models"
	drepo "SignalFusion/internal/domain/repository"
	applogger "SignalFusion/pkg/logger"
)

// StreamClient is a MarketStream over the Finnhub trade websocket.
type StreamClient struct {
	apiKey       string
	websocketURL string
	pingInterval time.Duration
	log          *applogger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	// writes on a gorilla conn must not run concurrently
	writeMu sync.Mutex
}

var _ drepo.MarketStream = (*StreamClient)(nil)

func NewStreamClient(apiKey, websocketURL string, pingInterval time.Duration, log *applogger.Logger) *StreamClient {
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	return &StreamClient{
		apiKey:       apiKey,
		websocketURL: websocketURL,
		pingInterval: pingInterval,
		log:          log,
	}
}

// Connect dials the websocket.
func (c *StreamClient) Connect(ctx context.Context) error {
	u, err := url.Parse(c.websocketURL)
	if err != nil {
		return fmt.Errorf("finnhub url: %w", err)
	}
	q := u.Query()
	q.Set("token", c.apiKey)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("finnhub connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.log.Info("finnhub.stream connected")
	return nil
}

func (c *StreamClient) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	return c.conn
}

func (c *StreamClient) write(fn func(*websocket.Conn) error) error {
	conn := c.current()
	if conn == nil {
		return errors.New("finnhub not connected")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return fn(conn)
}

// Subscribe asks the server for trades of symbols.
func (c *StreamClient) Subscribe(_ context.Context, symbols []string) error {
	for _, s := range symbols {
		msg := map[string]string{"type": "subscribe", "symbol": s}
		if err := c.write(func(conn *websocket.Conn) error { return conn.WriteJSON(msg) }); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
		c.log.Debug("finnhub.stream subscribed", applogger.String("symbol", s))
	}
	return nil
}

type fhTrade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	V float64 `json:"v"`
	T int64   `json:"t"` // ms
}

type fhMessage struct {
	Type string    `json:"type"`
	Data []fhTrade `json:"data"`
}

// decodeTrades parses one frame. Non-trade frames (ping, errors) yield nothing.
func decodeTrades(b []byte) []models.Trade {
	var m fhMessage
	if err := json.Unmarshal(b, &m); err != nil || m.Type != "trade" {
		return nil
	}
	out := make([]models.Trade, 0, len(m.Data))
	for _, d := range m.Data {
		out = append(out, models.Trade{
			Symbol:    d.S,
			Price:     d.P,
			Volume:    d.V,
			Timestamp: time.UnixMilli(d.T).UTC(),
		})
	}
	return out
}

// Read streams trades until ctx ends or the connection fails. The error
// channel receives at most one error and both channels close on exit.
func (c *StreamClient) Read(ctx context.Context) (<-chan models.Trade, <-chan error) {
	trades := make(chan models.Trade, 1024)
	errs := make(chan error, 1)

	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = c.write(func(conn *websocket.Conn) error {
					return conn.WriteMessage(websocket.PingMessage, nil)
				})
			}
		}
	}()

	go func() {
		defer close(trades)
		defer close(errs)
		conn := c.current()
		if conn == nil {
			errs <- errors.New("finnhub conn nil")
			return
		}
		// unblock ReadMessage on cancellation
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		defer stop()
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					errs <- fmt.Errorf("finnhub read: %w", err)
				}
				return
			}
			for _, t := range decodeTrades(b) {
				select {
				case trades <- t:
				default:
					// drop on backpressure
				}
			}
		}
	}()

	return trades, errs
}

// Close closes the WS connection.
func (c *StreamClient) Close() error {
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

// IsConnected indicates status.
func (c *StreamClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

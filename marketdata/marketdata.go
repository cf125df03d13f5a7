// Package marketdata streams token mid prices over a WebSocket and keeps
// the application store's price slice current.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"trade-inputs/reconciler"
)

// PriceSink receives validated prices and invalidations.
type PriceSink interface {
	SetTokenPrices(prices map[string]float64)
	InvalidatePrice(symbols ...string)
}

// Feed is the public interface of the price stream.
type Feed interface {
	Start(ctx context.Context) error
	Stop() error
	LatestPrice(symbol string) (float64, error)
	Status() ConnectionStatus
}

// Config holds the feed settings.
type Config struct {
	WSURL             string
	ReconnectInterval time.Duration
	HeartbeatInterval time.Duration
	MaxReconnects     int
	PriceMaxAge       time.Duration // older prices are invalidated
	SweepInterval     time.Duration
	Symbols           []string // empty accepts every symbol on the channel
}

// DefaultConfig returns the defaults used by the panel command.
func DefaultConfig() Config {
	return Config{
		WSURL:             "wss://api.hyperliquid.xyz/ws",
		ReconnectInterval: 5 * time.Second,
		HeartbeatInterval: 20 * time.Second,
		MaxReconnects:     10,
		PriceMaxAge:       30 * time.Second,
		SweepInterval:     5 * time.Second,
	}
}

// ConnectionStatus reports feed health.
type ConnectionStatus struct {
	IsConnected    bool
	LastHeartbeat  time.Time
	ReconnectCount int
	MessageCount   int64
	LastMessage    time.Time
	ErrorCount     int64
	StaleCount     int64
}

// PriceData is the last observation for a symbol.
type PriceData struct {
	Symbol    string
	Price     float64
	Timestamp time.Time
	IsValid   bool
}

// SubscriptionMessage is sent to the server to join a channel.
type SubscriptionMessage struct {
	Method       string            `json:"method"`
	Subscription map[string]string `json:"subscription"`
}

// AllMidsResponse carries mid prices keyed by symbol.
type AllMidsResponse struct {
	Channel string `json:"channel"`
	Data    struct {
		Mids map[string]string `json:"mids"`
	} `json:"data"`
}

type engine struct {
	config Config
	sink   PriceSink
	logger *zap.Logger
	dialer *websocket.Dialer
	now    func() time.Time

	connMu  sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	cacheMu sync.RWMutex
	cache   map[string]PriceData
	allowed map[string]bool

	statusMu sync.RWMutex
	status   ConnectionStatus

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a feed that writes into sink.
func New(config Config, sink PriceSink, logger *zap.Logger) (Feed, error) {
	if config.WSURL == "" {
		return nil, errors.New("websocket url is required")
	}
	if sink == nil {
		return nil, errors.New("price sink is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if config.ReconnectInterval <= 0 {
		config.ReconnectInterval = defaults.ReconnectInterval
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if config.PriceMaxAge <= 0 {
		config.PriceMaxAge = defaults.PriceMaxAge
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaults.SweepInterval
	}

	var allowed map[string]bool
	if len(config.Symbols) > 0 {
		allowed = make(map[string]bool, len(config.Symbols))
		for _, s := range config.Symbols {
			allowed[s] = true
		}
	}

	return &engine{
		config: config,
		sink:   sink,
		logger: logger.Named("marketdata"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		now:     time.Now,
		cache:   make(map[string]PriceData),
		allowed: allowed,
	}, nil
}

// Start connects, subscribes to mid prices and starts the background loops.
func (e *engine) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	if err := e.connect(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to establish WebSocket connection: %w", err)
	}

	e.wg.Add(3)
	go e.readLoop(ctx)
	go e.heartbeatLoop(ctx)
	go e.sweepLoop(ctx)

	e.logger.Info("price feed started", zap.String("url", e.config.WSURL))
	return nil
}

// Stop closes the connection and waits for the loops to exit.
func (e *engine) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	e.closeConn()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("price feed stopped")
		return nil
	case <-time.After(10 * time.Second):
		return errors.New("timeout waiting for goroutines to finish")
	}
}

// LatestPrice returns the cached price for symbol.
func (e *engine) LatestPrice(symbol string) (float64, error) {
	e.cacheMu.RLock()
	defer e.cacheMu.RUnlock()

	data, ok := e.cache[symbol]
	if !ok {
		return 0, fmt.Errorf("no price data available for symbol: %s", symbol)
	}
	if !data.IsValid || e.now().Sub(data.Timestamp) > e.config.PriceMaxAge {
		return 0, fmt.Errorf("price data for %s is stale", symbol)
	}
	return data.Price, nil
}

// Status returns a copy of the connection status.
func (e *engine) Status() ConnectionStatus {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.status
}

func (e *engine) connect(ctx context.Context) error {
	conn, _, err := e.dialer.DialContext(ctx, e.config.WSURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial WebSocket: %w", err)
	}

	e.connMu.Lock()
	e.conn = conn
	e.connMu.Unlock()

	if err := e.send(SubscriptionMessage{
		Method:       "subscribe",
		Subscription: map[string]string{"type": "allMids"},
	}); err != nil {
		e.closeConn()
		return fmt.Errorf("failed to subscribe to allMids: %w", err)
	}

	e.updateStatus(func(s *ConnectionStatus) {
		s.IsConnected = true
		s.LastHeartbeat = e.now()
	})
	return nil
}

func (e *engine) closeConn() {
	e.connMu.Lock()
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
	e.connMu.Unlock()

	e.updateStatus(func(s *ConnectionStatus) {
		s.IsConnected = false
	})
}

func (e *engine) currentConn() *websocket.Conn {
	e.connMu.RLock()
	defer e.connMu.RUnlock()
	return e.conn
}

func (e *engine) send(msg interface{}) error {
	conn := e.currentConn()
	if conn == nil {
		return errors.New("WebSocket not connected")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// reconnect retries up to MaxReconnects times. Prices stay in the store
// until the sweeper finds them stale.
func (e *engine) reconnect(ctx context.Context) error {
	e.closeConn()

	for attempt := 1; e.config.MaxReconnects <= 0 || attempt <= e.config.MaxReconnects; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.config.ReconnectInterval):
		}

		e.logger.Info("reconnecting price feed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", e.config.MaxReconnects))

		err := e.connect(ctx)
		e.updateStatus(func(s *ConnectionStatus) {
			s.ReconnectCount++
			if err != nil {
				s.ErrorCount++
			}
		})
		if err == nil {
			return nil
		}
		e.logger.Warn("reconnection failed", zap.Error(err))
	}
	return fmt.Errorf("maximum reconnection attempts reached (%d)", e.config.MaxReconnects)
}

func (e *engine) readLoop(ctx context.Context) {
	defer e.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}
		conn := e.currentConn()
		if conn == nil {
			if err := e.reconnect(ctx); err != nil {
				if ctx.Err() == nil {
					e.logger.Error("price feed gave up", zap.Error(err))
				}
				return
			}
			continue
		}

		conn.SetReadDeadline(e.now().Add(3 * e.config.HeartbeatInterval))
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Warn("error reading message", zap.Error(err))
			e.updateStatus(func(s *ConnectionStatus) { s.ErrorCount++ })
			e.closeConn()
			continue
		}

		if messageType == websocket.TextMessage {
			e.processMessage(data)
			e.updateStatus(func(s *ConnectionStatus) {
				s.MessageCount++
				s.LastMessage = e.now()
			})
		}
	}
}

func (e *engine) processMessage(data []byte) {
	var resp AllMidsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		e.logger.Debug("ignoring malformed message", zap.Error(err))
		return
	}
	if resp.Channel != "allMids" {
		e.logger.Debug("ignoring message", zap.String("channel", resp.Channel))
		return
	}
	e.processAllMids(resp)
}

func (e *engine) processAllMids(resp AllMidsResponse) {
	timestamp := e.now()
	prices := make(map[string]float64, len(resp.Data.Mids))

	for symbol, priceStr := range resp.Data.Mids {
		if e.allowed != nil && !e.allowed[symbol] {
			continue
		}
		price, err := strconv.ParseFloat(priceStr, 64)
		if err != nil {
			e.logger.Warn("failed to parse price", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if !reconciler.UsablePrice(price) {
			e.logger.Warn("invalid price", zap.String("symbol", symbol), zap.Float64("price", price))
			continue
		}
		prices[symbol] = price
	}
	if len(prices) == 0 {
		return
	}

	e.cacheMu.Lock()
	for symbol, price := range prices {
		e.cache[symbol] = PriceData{
			Symbol:    symbol,
			Price:     price,
			Timestamp: timestamp,
			IsValid:   true,
		}
	}
	e.cacheMu.Unlock()

	e.sink.SetTokenPrices(prices)
}

func (e *engine) heartbeatLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn := e.currentConn()
			if conn == nil {
				continue
			}
			e.writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, []byte{})
			e.writeMu.Unlock()
			if err != nil {
				e.logger.Warn("failed to send ping", zap.Error(err))
				e.updateStatus(func(s *ConnectionStatus) { s.ErrorCount++ })
				continue
			}
			e.updateStatus(func(s *ConnectionStatus) { s.LastHeartbeat = e.now() })
		}
	}
}

func (e *engine) sweepLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweepStale()
		}
	}
}

// sweepStale invalidates prices older than PriceMaxAge and returns the
// affected symbols.
func (e *engine) sweepStale() []string {
	now := e.now()
	var stale []string

	e.cacheMu.Lock()
	for symbol, data := range e.cache {
		if data.IsValid && now.Sub(data.Timestamp) > e.config.PriceMaxAge {
			data.IsValid = false
			e.cache[symbol] = data
			stale = append(stale, symbol)
		}
	}
	e.cacheMu.Unlock()

	if len(stale) == 0 {
		return nil
	}
	sort.Strings(stale)
	e.updateStatus(func(s *ConnectionStatus) { s.StaleCount += int64(len(stale)) })
	e.logger.Info("invalidating stale prices", zap.Strings("symbols", stale))
	e.sink.InvalidatePrice(stale...)
	return stale
}

func (e *engine) updateStatus(updater func(*ConnectionStatus)) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	updater(&e.status)
}

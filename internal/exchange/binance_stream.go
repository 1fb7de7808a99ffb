package exchange

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sugawarayuuta/sonnet"

	"arbscout/internal/model"
)

const maxStreamBackoff = 16 * time.Second

// BookTickerStream keeps the latest best bid/ask of every symbol from a
// Binance-style all-market book ticker websocket.
type BookTickerStream struct {
	logger   *slog.Logger
	exchange string
	url      string
	dialer   *websocket.Dialer

	mu         sync.RWMutex
	quotes     map[string]model.TickerQuote
	lastUpdate time.Time
	now        func() time.Time
}

func NewBookTickerStream(logger *slog.Logger, exchange, url string) *BookTickerStream {
	return &BookTickerStream{
		logger:   logger.With("exchange", exchange, "stream", "bookTicker"),
		exchange: exchange,
		url:      url,
		dialer:   websocket.DefaultDialer,
		quotes:   make(map[string]model.TickerQuote),
		now:      time.Now,
	}
}

// Start connects and consumes the stream until ctx is cancelled, reconnecting
// with exponential backoff.
func (s *BookTickerStream) Start(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			s.logger.Info("BookTickerStream: context cancelled, shutting down")
			return nil
		}

		s.logger.Info("BookTickerStream: connecting to WebSocket", "url", s.url, "backoff", backoff)
		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			s.logger.Error("BookTickerStream: WebSocket connection failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
				backoff = min(backoff*2, maxStreamBackoff)
			}
			continue
		}

		// Reset backoff on successful connection
		backoff = time.Second
		s.logger.Info("BookTickerStream: connected successfully")
		s.consume(ctx, conn)
	}
}

// consume reads messages until the connection fails or ctx is cancelled.
func (s *BookTickerStream) consume(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("BookTickerStream: failed to read message", "error", err)
			}
			return
		}
		s.handle(message)
	}
}

func (s *BookTickerStream) handle(message []byte) {
	var ticker struct {
		Symbol string `json:"s"`
		Bid    number `json:"b"`
		BidQty number `json:"B"`
		Ask    number `json:"a"`
		AskQty number `json:"A"`
	}
	if err := sonnet.Unmarshal(message, &ticker); err != nil {
		s.logger.Warn("BookTickerStream: failed to parse message", "error", err)
		return
	}
	q, ok := quote(s.exchange, ticker.Symbol, ticker.Bid, ticker.Ask)
	if !ok {
		return
	}
	s.mu.Lock()
	s.quotes[q.Symbol] = q
	s.lastUpdate = s.now()
	s.mu.Unlock()
}

// Snapshot returns every known quote, or false when nothing arrived within maxAge.
func (s *BookTickerStream) Snapshot(maxAge time.Duration) ([]model.TickerQuote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.quotes) == 0 || s.now().Sub(s.lastUpdate) > maxAge {
		return nil, false
	}
	out := make([]model.TickerQuote, 0, len(s.quotes))
	for _, q := range s.quotes {
		out = append(out, q)
	}
	return out, true
}

// StreamingAdapter answers FetchTickers from a live stream while it is fresh.
type StreamingAdapter struct {
	Adapter
	stream *BookTickerStream
	maxAge time.Duration
}

func NewStreamingAdapter(inner Adapter, stream *BookTickerStream, maxAge time.Duration) *StreamingAdapter {
	return &StreamingAdapter{Adapter: inner, stream: stream, maxAge: maxAge}
}

func (s *StreamingAdapter) FetchTickers(ctx context.Context) ([]model.TickerQuote, error) {
	if quotes, ok := s.stream.Snapshot(s.maxAge); ok {
		return quotes, nil
	}
	return s.Adapter.FetchTickers(ctx)
}

func (s *StreamingAdapter) TradeURL(symbol string) string {
	if l, ok := s.Adapter.(TradeLinker); ok {
		return l.TradeURL(symbol)
	}
	return ""
}

package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/olyamironova/quote-engine/internal/domain"
	"github.com/olyamironova/quote-engine/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type TickerSource interface {
	ExchangeTicker(ctx context.Context, exchangeName, symbol string) (*domain.Ticker, error)
}

// ExchangeChecker reports whether an exchange is configured.
type ExchangeChecker interface {
	Has(ctx context.Context, name string) bool
}

// Message is what subscribers receive on every poll.
type Message struct {
	Type     string         `json:"type"`
	Exchange string         `json:"exchange"`
	Symbol   string         `json:"symbol"`
	Ticker   *domain.Ticker `json:"ticker,omitempty"`
	Error    string         `json:"error,omitempty"`
}

type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// topic is one exchange:symbol key with its poller.
type topic struct {
	subs   map[string]*subscriber
	cancel context.CancelFunc
}

// Hub fans ticker updates out to websocket subscribers. One poller runs per
// exchange:symbol key while it has at least one subscriber.
type Hub struct {
	source   TickerSource
	checker  ExchangeChecker
	interval time.Duration
	buffer   int
	log      *logger.Log
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	topics map[string]*topic
}

func NewHub(source TickerSource, checker ExchangeChecker, interval time.Duration, buffer int, log *logger.Log) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		source:   source,
		checker:  checker,
		interval: interval,
		buffer:   buffer,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
		topics: make(map[string]*topic),
	}
}

func Key(exchangeName, symbol string) string {
	return strings.ToLower(strings.TrimSpace(exchangeName)) + ":" + domain.NormalizeSymbol(symbol)
}

// Serve upgrades GET /ws/subscribe/:exchange_name/:symbol and streams
// tickers until the client goes away.
func (h *Hub) Serve(c *gin.Context) {
	exchangeName := strings.ToLower(c.Param("exchange_name"))
	symbol := domain.NormalizeSymbol(c.Param("symbol"))
	if !h.checker.Has(c.Request.Context(), exchangeName) {
		c.JSON(http.StatusNotFound, gin.H{"error": "exchange " + exchangeName + " is not configured"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithComponent("ws_hub").WithError(err).Warn("websocket upgrade failed")
		return
	}
	sub := &subscriber{id: uuid.NewString(), conn: conn, send: make(chan []byte, h.buffer)}
	key := Key(exchangeName, symbol)

	h.subscribe(key, exchangeName, symbol, sub)
	go h.writePump(sub)
	h.readPump(sub)

	h.unsubscribe(key, sub)
	close(sub.send)
}

func (h *Hub) subscribe(key, exchangeName, symbol string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[key]
	if !ok {
		ctx, cancel := context.WithCancel(h.ctx)
		t = &topic{subs: make(map[string]*subscriber), cancel: cancel}
		h.topics[key] = t
		go h.poll(ctx, key, exchangeName, symbol)
	}
	t.subs[sub.id] = sub
	h.log.WithComponent("ws_hub").WithFields(logger.Fields{
		"key":         key,
		"subscriber":  sub.id,
		"subscribers": len(t.subs),
	}).Info("subscriber added")
}

// unsubscribe drops sub; the last one out stops the poller and the key.
func (h *Hub) unsubscribe(key string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[key]
	if !ok {
		return
	}
	delete(t.subs, sub.id)
	if len(t.subs) == 0 {
		t.cancel()
		delete(h.topics, key)
	}
	h.log.WithComponent("ws_hub").WithFields(logger.Fields{
		"key":        key,
		"subscriber": sub.id,
	}).Info("subscriber removed")
}

func (h *Hub) poll(ctx context.Context, key, exchangeName, symbol string) {
	tick := time.NewTicker(h.interval)
	defer tick.Stop()
	for {
		h.publish(ctx, key, exchangeName, symbol)
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

func (h *Hub) publish(ctx context.Context, key, exchangeName, symbol string) {
	msg := Message{Type: "ticker", Exchange: exchangeName, Symbol: symbol}
	t, err := h.source.ExchangeTicker(ctx, exchangeName, symbol)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		h.log.WithComponent("ws_hub").WithFields(logger.Fields{"key": key}).
			WithError(err).Warn("ticker poll failed")
		msg.Type, msg.Error = "error", err.Error()
	} else {
		msg.Ticker = t
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.log.WithComponent("ws_hub").WithError(err).Error("encode ticker message")
		return
	}
	h.broadcast(key, payload)
}

// broadcast never blocks: a subscriber whose buffer is full misses the update.
func (h *Hub) broadcast(key string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[key]
	if !ok {
		return
	}
	for _, sub := range t.subs {
		select {
		case sub.send <- payload:
		default:
			h.log.WithComponent("ws_hub").WithFields(logger.Fields{
				"key":        key,
				"subscriber": sub.id,
			}).Warn("subscriber buffer full, dropping update")
		}
	}
}

func (h *Hub) readPump(sub *subscriber) {
	sub.conn.SetReadLimit(512)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(sub *subscriber) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		sub.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ping.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Subscribers returns how many clients are attached to key.
func (h *Hub) Subscribers(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.topics[key]; ok {
		return len(t.subs)
	}
	return 0
}

func (h *Hub) Topics() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics)
}

// Close stops every poller and disconnects all subscribers.
func (h *Hub) Close() {
	h.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range h.topics {
		for _, sub := range t.subs {
			sub.conn.Close()
		}
	}
}

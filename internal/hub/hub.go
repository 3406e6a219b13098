package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"coinsim-server/internal/feed"
	"coinsim-server/internal/metrics"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	subscriberBuffer = 8
	writeTimeout     = 10 * time.Second
)

type envelope struct {
	Type string      `json:"type"`
	Data feed.Update `json:"data"`
}

// Hub fans every feed publication out to all connected websocket
// subscribers. The latest payload is retained so a late joiner immediately
// receives the current state instead of waiting for the next refresh.
type Hub struct {
	log     *zap.Logger
	metrics *metrics.Metrics
	origins []string

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
	last []byte
}

type subscriber struct {
	ch chan []byte
}

func New(allowedOrigins []string, m *metrics.Metrics, log *zap.Logger) *Hub {
	return &Hub{
		log:     log,
		metrics: m,
		origins: allowedOrigins,
		subs:    make(map[*subscriber]struct{}),
	}
}

// Publish implements feed.Publisher. Slow subscribers have stale payloads
// dropped rather than blocking the acquirer.
func (h *Hub) Publish(update feed.Update) {
	payload, err := json.Marshal(envelope{Type: "priceUpdate", Data: update})
	if err != nil {
		h.log.Error("price update encode failed", zap.Error(err))
		return
	}
	h.mu.Lock()
	h.last = payload
	subs := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()
	for _, s := range subs {
		select {
		case s.ch <- payload:
		default:
		}
	}
}

// Count reports the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) add() *subscriber {
	s := &subscriber{ch: make(chan []byte, subscriberBuffer)}
	h.mu.Lock()
	if h.last != nil {
		s.ch <- h.last
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	h.metrics.Subscribers.Inc()
	return s
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	_, ok := h.subs[s]
	delete(h.subs, s)
	h.mu.Unlock()
	if ok {
		h.metrics.Subscribers.Dec()
	}
}

// ServeWS upgrades the request and streams publications until the client
// goes away. A failed or departed subscriber is removed silently.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.log.Debug("ws accept failed", zap.Error(err))
		return
	}
	sub := h.add()
	defer h.remove(sub)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		// Clients send nothing meaningful; reading only detects the close.
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-sub.ch:
			writeCtx, writeCancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, payload)
			writeCancel()
			if err != nil {
				return
			}
		}
	}
}

package signaling

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// WebsocketHandler runs the offer/answer exchange over a websocket, for
// browsers that cannot open raw TCP connections. Each text frame carries one
// {"type", "sdp"} message.
type WebsocketHandler struct {
	newPeer        PeerFactory
	maxMessageSize int
	upgrader       websocket.Upgrader

	// Upgraded connections are invisible to http.Server, so the handler
	// tracks its own exchanges.
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

func NewWebsocketHandler(newPeer PeerFactory, maxMessageSize int) *WebsocketHandler {
	return &WebsocketHandler{newPeer: newPeer, maxMessageSize: maxMessageSize}
}

// ServeHTTP upgrades the request and blocks for the lifetime of the
// exchange. The exchange ends when the request context (derived from the
// server's base context) is cancelled.
func (h *WebsocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.enter() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.wg.Done()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("upgrade: %v", err)
		return
	}

	err = runExchange(r.Context(), newWebsocketConn(ws, h.maxMessageSize), h.newPeer, false)
	switch {
	case err == nil:
	case errors.Is(err, ErrProtocol):
		log.Warn("Closing websocket from %v: %v", ws.RemoteAddr(), err)
	default:
		log.Warn("Websocket signaling with %v failed: %v", ws.RemoteAddr(), err)
	}
}

func (h *WebsocketHandler) enter() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.wg.Add(1)
	return true
}

// Close refuses new upgrades and waits for the exchanges in flight, which
// have their peers released by the time it returns. It does not end them;
// cancel the request context for that.
func (h *WebsocketHandler) Close() {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()
	h.wg.Wait()
}

// NewWebsocketMux serves the handler at /ws.
func NewWebsocketMux(h *WebsocketHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	return mux
}

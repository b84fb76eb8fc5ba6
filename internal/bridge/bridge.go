// Package bridge streams watch events to WebSocket clients. Clients are
// listen-only: inbound frames are read and discarded so the connection's
// control frames keep flowing.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Bridge manages WebSocket connections and broadcasts watch events to clients.
type Bridge struct {
	clients map[string]*wsClient
	mu      sync.RWMutex
	nextID  int
}

type wsClient struct {
	conn *websocket.Conn
	ctx  context.Context
	mu   sync.Mutex // serializes writes
}

// New creates an empty Bridge. Clients attach through HandleWS.
func New() *Bridge {
	return &Bridge{
		clients: make(map[string]*wsClient),
	}
}

// HandleWS is the HTTP handler for the /ws endpoint.
func (b *Bridge) HandleWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // the listen address is operator-chosen; any origin may watch
	})
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}

	ctx := r.Context()
	b.mu.Lock()
	b.nextID++
	id := fmt.Sprintf("client-%d", b.nextID)
	client := &wsClient{conn: c, ctx: ctx}
	b.clients[id] = client
	b.mu.Unlock()

	slog.Info("websocket client connected", "id", id, "remote", r.RemoteAddr)

	b.readLoop(ctx, id, client)
}

// ClientCount returns the number of connected clients.
func (b *Bridge) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Bridge) readLoop(ctx context.Context, id string, client *wsClient) {
	defer func() {
		b.mu.Lock()
		delete(b.clients, id)
		b.mu.Unlock()
		client.conn.Close(websocket.StatusNormalClosure, "")
		slog.Info("websocket client disconnected", "id", id)
	}()

	for {
		// Drain inbound frames; clients have nothing to say.
		if _, _, err := client.conn.Read(ctx); err != nil {
			return
		}
	}
}

// Broadcast sends a typed payload to every connected client. The frame is
// marshaled once, and dropped whole when the payload cannot be encoded; a
// client with a stalled connection only blocks its own write, never the
// others.
func (b *Bridge) Broadcast(msgType string, payload any) {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		slog.Warn("dropping broadcast frame", "type", msgType, "error", err)
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("dropping broadcast frame", "type", msgType, "error", err)
		return
	}

	b.mu.RLock()
	clients := make([]*wsClient, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		c.mu.Lock()
		_ = c.conn.Write(c.ctx, websocket.MessageText, data)
		c.mu.Unlock()
	}
}

// Serve exposes the bridge at /ws on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, b *Bridge) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", b.HandleWS)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // WebSocket needs no write timeout
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down event bridge")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("starting event bridge", "addr", addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("event bridge error: %w", err)
	}
	return nil
}

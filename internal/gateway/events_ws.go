package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/kirogw/kiro-gateway/internal/pool"
)

// eventBroadcaster fans out admin-facing state-change notifications to
// every connected /api/admin/events websocket client. It never blocks a
// slow subscriber: a subscriber whose buffer fills just misses events
// until it drains, rather than stalling the publisher.
type eventBroadcaster struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func newEventBroadcaster() *eventBroadcaster {
	return &eventBroadcaster{subs: make(map[chan []byte]struct{})}
}

func (b *eventBroadcaster) subscribe() chan []byte {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *eventBroadcaster) unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
	close(ch)
}

func (b *eventBroadcaster) publish(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- data:
		default: // subscriber's buffer is full; drop rather than block
		}
	}
}

// adminEvent is one notification pushed to connected admin clients.
type adminEvent struct {
	Type         string `json:"type"`
	CredentialID int64  `json:"credentialId,omitempty"`
	Message      string `json:"message,omitempty"`
	At           string `json:"at"`
}

func (g *Gateway) publishEvent(eventType string, credentialID int64, message string) {
	data, err := json.Marshal(adminEvent{Type: eventType, CredentialID: credentialID, Message: message, At: time.Now().UTC().Format(time.RFC3339)})
	if err != nil {
		return
	}
	g.events.publish(data)
}

// WatchPool polls the credential pool for changes to each credential's
// enabled flag or disable reason and publishes a notification for each,
// until ctx is canceled. The global circuit's state is not watched. cmd/server/main.go runs this for the lifetime of the process;
// it is the only producer side of the otherwise passive eventBroadcaster.
func (g *Gateway) WatchPool(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := map[int64]pool.CredentialView{}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, v := range g.Pool.AllSnapshots() {
				prev, seen := last[v.ID]
				last[v.ID] = v
				if !seen {
					continue
				}
				if prev.Enabled != v.Enabled || prev.DisableReason != v.DisableReason {
					g.publishEvent("credential_state_changed", v.ID, string(v.DisableReason))
				}
			}
		}
	}
}

// handleAdminEvents upgrades the connection to a websocket and streams
// every subsequently published admin event as a JSON text frame until the
// client disconnects.
func (g *Gateway) handleAdminEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("gateway: admin websocket upgrade failed")
		return
	}
	defer conn.CloseNow()

	ch := g.events.subscribe()
	defer g.events.unsubscribe(ch)

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-ch:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

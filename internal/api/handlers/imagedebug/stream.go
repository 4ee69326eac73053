package imagedebug

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 30 * time.Second
)

// HandleStream handles GET /debug/images/stream
// It upgrades to a websocket, sends the current snapshot, then sends a new
// snapshot whenever the store changes. Bursts of changes coalesce into one
// message. Client messages are ignored.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		slog.Warn("[IMAGE-DEBUG] websocket upgrade failed", "error", err)
		return
	}

	h.streams.Add(1)
	defer h.streams.Done()
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			slog.Debug("[IMAGE-DEBUG] failed to close websocket", "error", closeErr)
		}
	}()

	sub := h.store.Subscribe("")
	defer sub.Close()

	slog.Info("[IMAGE-DEBUG] stream client connected", "remote_addr", r.RemoteAddr)

	if err := conn.SetReadDeadline(time.Now().Add(streamPongWait)); err != nil {
		slog.Warn("[IMAGE-DEBUG] failed to set read deadline", "error", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	// The read loop only exists to process control frames and notice the
	// client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	if err := h.writeSnapshot(conn); err != nil {
		slog.Debug("[IMAGE-DEBUG] initial snapshot write failed", "error", err)
		return
	}

	for {
		select {
		case <-h.done:
			deadline := time.Now().Add(streamWriteWait)
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
				slog.Debug("[IMAGE-DEBUG] failed to send close frame", "error", err)
			}
			return
		case <-gone:
			slog.Info("[IMAGE-DEBUG] stream client disconnected", "remote_addr", r.RemoteAddr)
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(streamWriteWait)); err != nil {
				slog.Debug("[IMAGE-DEBUG] failed to send ping", "error", err)
				return
			}
		case <-sub.C():
			if err := h.writeSnapshot(conn); err != nil {
				slog.Debug("[IMAGE-DEBUG] snapshot write failed", "error", err)
				return
			}
		}
	}
}

func (h *Handler) writeSnapshot(conn *websocket.Conn) error {
	if err := conn.SetWriteDeadline(time.Now().Add(streamWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(h.store.Snapshot())
}

// Package imagedebug provides HTTP handlers for inspecting and driving the
// image cache: a JSON snapshot of the store, the best source for a URL,
// manual enqueue, and a live websocket stream of snapshots.
package imagedebug

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"Olas/internal/api/handlers"
	"Olas/internal/core/imagecache"
)

// maxPreloadBodyBytes caps POST /debug/images/preload request bodies.
const maxPreloadBodyBytes = 16 * 1024

// Store is the part of the image cache the debug surface needs.
type Store interface {
	Snapshot() imagecache.Snapshot
	BestSource(url string, width imagecache.Width) *imagecache.Rendition
	Status(url string, width imagecache.Width) imagecache.Status
	AddToQueue(url string, width imagecache.Width, blurhash string, priority imagecache.Priority) bool
	Trigger()
	Subscribe(url string) *imagecache.Subscription
}

// Handler serves the image cache debug endpoints.
type Handler struct {
	store    Store
	upgrader websocket.Upgrader

	done      chan struct{}
	closeOnce sync.Once
	streams   sync.WaitGroup
}

// NewHandler creates a new image cache debug handler.
func NewHandler(store Store) *Handler {
	return &Handler{
		store: store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Origin checks are left to the CORS policy of the debug server.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		done: make(chan struct{}),
	}
}

// Close ends every open stream and waits for them to finish. Hijacked
// websocket connections are not closed by http.Server.Shutdown.
func (h *Handler) Close() {
	h.closeOnce.Do(func() { close(h.done) })
	h.streams.Wait()
}

// HandleSnapshot handles GET /debug/images
func (h *Handler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSON(w, http.StatusOK, h.store.Snapshot())
}

type sourceResponse struct {
	URL       string                `json:"url"`
	ReqWidth  imagecache.Width      `json:"reqWidth"`
	Status    imagecache.Status     `json:"status"`
	Rendition *imagecache.Rendition `json:"rendition"`
}

// HandleSource handles GET /debug/images/source?url=&width=
// It reports what a consumer asking for url at width would draw right now.
func (h *Handler) HandleSource(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "url is required")
		return
	}

	width, err := imagecache.ParseWidth(r.URL.Query().Get("width"))
	if err != nil {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "invalid width")
		return
	}

	rendition := h.store.BestSource(url, width)
	if rendition == nil {
		handlers.WriteError(w, http.StatusNotFound, "NotFound", "nothing cached for url")
		return
	}

	handlers.WriteJSON(w, http.StatusOK, sourceResponse{
		URL:       url,
		ReqWidth:  width,
		Status:    h.store.Status(url, width),
		Rendition: rendition,
	})
}

type preloadRequest struct {
	URL      string           `json:"url"`
	ReqWidth imagecache.Width `json:"reqWidth"`
	Priority string           `json:"priority,omitempty"`
	Blurhash string           `json:"blurhash,omitempty"`
}

type preloadResponse struct {
	QueueKey imagecache.QueueKey `json:"queueKey"`
	Enqueued bool                `json:"enqueued"`
	Status   imagecache.Status   `json:"status"`
}

// HandlePreload handles POST /debug/images/preload
// It enqueues a request and triggers processing. The response reports
// whether the request was newly enqueued or already known to the store.
func (h *Handler) HandlePreload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPreloadBodyBytes)

	var req preloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			handlers.WriteError(w, http.StatusRequestEntityTooLarge, "InvalidRequest", "request body too large")
			return
		}
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "invalid JSON body")
		return
	}

	if req.URL == "" {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "url is required")
		return
	}

	priority, err := imagecache.ParsePriority(req.Priority)
	if err != nil {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "priority must be high, normal or low")
		return
	}

	enqueued := h.store.AddToQueue(req.URL, req.ReqWidth, req.Blurhash, priority)
	h.store.Trigger()

	slog.Info("[IMAGE-DEBUG] manual preload",
		"url", req.URL,
		"width", req.ReqWidth.String(),
		"priority", string(priority),
		"enqueued", enqueued,
	)

	handlers.WriteJSON(w, http.StatusAccepted, preloadResponse{
		QueueKey: imagecache.KeyFor(req.URL, req.ReqWidth),
		Enqueued: enqueued,
		Status:   h.store.Status(req.URL, req.ReqWidth),
	})
}

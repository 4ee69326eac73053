package routes

import (
	"github.com/go-chi/chi/v5"

	imagedebughandlers "Olas/internal/api/handlers/imagedebug"
)

// RegisterImageDebugRoutes registers the image cache debug endpoints on the router.
//
// Routes:
//   - GET  /debug/images                  full store snapshot
//   - GET  /debug/images/source?url=&width= best source for one request
//   - POST /debug/images/preload          enqueue {url, reqWidth, priority, blurhash}
//   - GET  /debug/images/stream           websocket stream of snapshots
func RegisterImageDebugRoutes(r chi.Router, handler *imagedebughandlers.Handler) {
	r.Route("/debug/images", func(r chi.Router) {
		r.Get("/", handler.HandleSnapshot)
		r.Get("/source", handler.HandleSource)
		r.Post("/preload", handler.HandlePreload)
		r.Get("/stream", handler.HandleStream)
	})
}

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	imagedebughandlers "Olas/internal/api/handlers/imagedebug"
	"Olas/internal/api/middleware"
	"Olas/internal/api/routes"
	"Olas/internal/core/imagecache"
	"Olas/internal/core/imageloader"
)

func main() {
	setupLogging(os.Getenv("LOG_LEVEL"))

	// Image loader: HTTP fetch, source cache, decode
	loaderConfig := imageloader.ConfigFromEnv()
	loader, stopCleanup, err := imageloader.NewFromConfig(loaderConfig)
	if err != nil {
		log.Fatal("Failed to create image loader:", err)
	}
	defer stopCleanup()

	// Image cache store: queues, admission, timeouts
	cacheConfig := imagecache.ConfigFromEnv()
	store, err := imagecache.NewStore(loader, cacheConfig)
	if err != nil {
		log.Fatal("Failed to create image cache:", err)
	}
	defer store.Close()

	slog.Info("[IMAGE-CACHE] image cache initialized",
		"max_concurrent", cacheConfig.MaxConcurrent,
		"download_timeout", cacheConfig.DownloadTimeout,
		"debounce", cacheConfig.DebounceWindow,
		"disk_cache", loaderConfig.DiskCachePath != "",
	)

	r := chi.NewRouter()

	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(os.Getenv("DEBUG_CORS_ORIGINS")),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	// Rate limiting: 100 requests per minute per IP
	rateLimiter := middleware.NewRateLimiter(100, 1*time.Minute)
	defer rateLimiter.Stop()
	r.Use(rateLimiter.Middleware)

	debugHandler := imagedebughandlers.NewHandler(store)
	routes.RegisterImageDebugRoutes(r, debugHandler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	port := os.Getenv("IMAGE_DEBUG_PORT")
	if port == "" {
		port = "8082"
	}

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("[IMAGE-DEBUG] debug server starting", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("[IMAGE-DEBUG] server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("[IMAGE-DEBUG] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	debugHandler.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("[IMAGE-DEBUG] graceful shutdown failed", "error", err)
	}
}

// setupLogging installs a text slog handler at the requested level.
func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// allowedOrigins parses a comma-separated origin list. Empty means localhost only.
func allowedOrigins(v string) []string {
	if strings.TrimSpace(v) == "" {
		return []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	var origins []string
	for _, o := range strings.Split(v, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

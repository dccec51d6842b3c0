package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"trafficwatch/internal/auth"
	"trafficwatch/internal/config"
	"trafficwatch/internal/database"
	"trafficwatch/internal/framestore"
	"trafficwatch/internal/registry"
	"trafficwatch/internal/ws"
)

// handleHTTPServer configures and starts the HTTP server hosting the
// frame ingest and viewer event endpoints. It shuts the server down
// when the context is cancelled.
func handleHTTPServer(ctx context.Context, cfg *config.Config, hub *ws.Hub,
	router *ws.EventRouter, reg *registry.Registry, frames *framestore.Store,
	db *database.Database, jwtMgr *auth.JWTManager,
	wg *sync.WaitGroup, errc chan error, logger *log.Logger) {

	mux := http.NewServeMux()

	// Viewer channel carries base64 frames, so it gets extra headroom
	// over the raw binary limit.
	viewerLimit := cfg.MaxFrameBytes * 2

	mux.Handle("/ws/camera", ws.NewIngestHandler(hub, reg, frames, cfg.MaxFrameBytes))
	mux.Handle("/ws/events", ws.NewHandler(hub, router, jwtMgr, cfg.AuthEnabled, cfg.SendQueueLen, viewerLimit))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		code := http.StatusOK
		if err := db.Ping(); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      status,
			"cameras":     len(reg.ListIDs()),
			"memberships": hub.ClientCount(),
			"frames":      frames.Count(),
		})
	})

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux, ReadHeaderTimeout: 60 * time.Second}

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			logger.Printf("HTTP server listening on %q", cfg.ListenAddr)
			errc <- srv.ListenAndServe()
		}()

		<-ctx.Done()
		logger.Printf("shutting down HTTP server at %q", cfg.ListenAddr)

		// Shutdown gracefully with a 30s timeout.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Printf("failed to shutdown: %v", err)
		}
	}()
}

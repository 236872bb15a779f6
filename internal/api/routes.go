package api

import (
	"fmt"
	"net/http"

	"github.com/earthring/terrain/internal/auth"
	"github.com/earthring/terrain/internal/config"
	"github.com/earthring/terrain/internal/mesh"
	"github.com/earthring/terrain/internal/performance"
	"github.com/earthring/terrain/internal/terrain"
)

// Dependencies are the services the HTTP surface drives
type Dependencies struct {
	Manager   *terrain.Manager
	Scheduler *terrain.Scheduler
	Profiler  *performance.Profiler
	Hub       *WebSocketHub
	JWT       *auth.JWTService
	// Ledger is nil when the generation ledger is disabled.
	Ledger GenerationSource
	Layout mesh.Layout
}

// NewRouter builds the complete HTTP handler
func NewRouter(cfg *config.Config, deps Dependencies) (http.Handler, error) {
	mux := http.NewServeMux()

	SetupHealthRoutes(mux, deps)
	if err := SetupChunkRoutes(mux, cfg, deps); err != nil {
		return nil, err
	}
	SetupWebSocketRoutes(mux, cfg, deps)

	handler := CORSMiddleware(cfg.Server.OriginAllowed)(mux)
	handler = auth.SecurityHeaders(cfg.Server.IsProduction())(handler)
	return handler, nil
}

// SetupHealthRoutes registers the unauthenticated health check
func SetupHealthRoutes(mux *http.ServeMux, deps Dependencies) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"chunks":  deps.Manager.Len(),
			"pending": deps.Scheduler.Pending(),
			"viewers": deps.Hub.ConnectionCount(),
		})
	})
}

// SetupChunkRoutes registers the chunk, stats and ledger routes. Reads need
// any valid token; mutations need an operator token and are rate limited per
// subject.
func SetupChunkRoutes(mux *http.ServeMux, cfg *config.Config, deps Dependencies) error {
	rate, err := ParseRate(cfg.Server.RateLimit)
	if err != nil {
		return fmt.Errorf("chunk routes: %w", err)
	}

	handlers := NewChunkHandlers(deps.Manager, deps.Scheduler, deps.Profiler, deps.Ledger, deps.Layout)
	authMiddleware := auth.NewMiddleware(deps.JWT)
	operatorOnly := authMiddleware.RequireRole(auth.RoleOperator)
	rateLimit := SubjectRateLimitMiddleware(rate)

	read := func(h http.HandlerFunc) http.Handler {
		return authMiddleware.RequireToken(h)
	}
	write := func(h http.HandlerFunc) http.Handler {
		return authMiddleware.RequireToken(operatorOnly(rateLimit(h)))
	}

	mux.Handle("GET /api/chunks", read(handlers.GetChunks))
	mux.Handle("GET /api/chunks/mesh", read(handlers.GetChunkMesh))
	mux.Handle("GET /api/stats", read(handlers.GetStats))
	mux.Handle("GET /api/generations", read(handlers.GetGenerations))

	mux.Handle("POST /api/chunks", write(handlers.AddChunk))
	mux.Handle("POST /api/chunks/configure", write(handlers.ConfigureChunk))
	mux.Handle("POST /api/chunks/refresh", write(handlers.RefreshChunks))
	mux.Handle("DELETE /api/chunks", write(handlers.RemoveChunk))
	return nil
}

// SetupWebSocketRoutes registers the mesh stream
func SetupWebSocketRoutes(mux *http.ServeMux, cfg *config.Config, deps Dependencies) {
	handlers := NewWebSocketHandlers(deps.Hub, deps.Manager, cfg.Server.OriginAllowed)
	authMiddleware := auth.NewMiddleware(deps.JWT)
	mux.Handle("GET /ws", authMiddleware.RequireToken(http.HandlerFunc(handlers.HandleWebSocket)))
}

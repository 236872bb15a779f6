package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/earthring/terrain/internal/compression"
	"github.com/earthring/terrain/internal/database"
	"github.com/earthring/terrain/internal/mesh"
	"github.com/earthring/terrain/internal/performance"
	"github.com/earthring/terrain/internal/terrain"
)

// callTimeout bounds how long a handler waits for the owner context.
const callTimeout = 10 * time.Second

var validate = validator.New()

// GenerationSource reads the generation ledger
type GenerationSource interface {
	Recent(ctx context.Context, limit int) ([]database.Generation, error)
}

// ChunkHandlers handles chunk-related HTTP requests. Every mutation runs on
// the scheduler's owner context through Scheduler.Call.
type ChunkHandlers struct {
	manager  *terrain.Manager
	sched    *terrain.Scheduler
	profiler *performance.Profiler
	ledger   GenerationSource
	layout   mesh.Layout
}

// NewChunkHandlers creates a new instance of ChunkHandlers. ledger may be nil.
func NewChunkHandlers(manager *terrain.Manager, sched *terrain.Scheduler, profiler *performance.Profiler, ledger GenerationSource, layout mesh.Layout) *ChunkHandlers {
	return &ChunkHandlers{
		manager:  manager,
		sched:    sched,
		profiler: profiler,
		ledger:   ledger,
		layout:   layout,
	}
}

// AddChunk handles POST /api/chunks
func (h *ChunkHandlers) AddChunk(w http.ResponseWriter, r *http.Request) {
	var req AddChunkRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	layout := h.layout
	if req.Layout != "" {
		var err error
		if layout, err = mesh.ParseLayout(req.Layout); err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	index := terrain.Index{X: *req.X, Z: *req.Z}
	var resp ChunkResponse
	err := h.call(r, func() {
		chunk, created := h.manager.Add(index, layout)
		resp = ChunkResponse{Chunk: chunk.Status(), Created: created}
	})
	if err != nil {
		respondWithCallError(w, err)
		return
	}

	status := http.StatusCreated
	if !resp.Created {
		status = http.StatusOK
	}
	respondWithJSON(w, status, resp)
}

// ConfigureChunk handles POST /api/chunks/configure. The chunk is given a new
// detail level and seam side and regenerated.
func (h *ChunkHandlers) ConfigureChunk(w http.ResponseWriter, r *http.Request) {
	var req ConfigureChunkRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	seam := mesh.SeamNone
	if req.Seam != "" {
		var err error
		if seam, err = mesh.ParseSeamSide(req.Seam); err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	async := req.Async == nil || *req.Async

	index := terrain.Index{X: *req.X, Z: *req.Z}
	var (
		resp  ChunkResponse
		found bool
	)
	err := h.call(r, func() {
		chunk, ok := h.manager.Chunk(index)
		if !ok {
			return
		}
		found = true

		chunk.Configure(*req.Detail, seam)
		if async {
			resp.Accepted = chunk.GenerateAsync()
		} else {
			resp.Accepted = chunk.Generate()
		}
		resp.Chunk = chunk.Status()
	})
	if err != nil {
		respondWithCallError(w, err)
		return
	}
	if !found {
		respondWithError(w, http.StatusNotFound, fmt.Sprintf("Chunk %s not found", index))
		return
	}

	status := http.StatusOK
	switch {
	case !resp.Accepted:
		status = http.StatusConflict
	case async:
		status = http.StatusAccepted
	}
	respondWithJSON(w, status, resp)
}

// RefreshChunks handles POST /api/chunks/refresh
func (h *ChunkHandlers) RefreshChunks(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	resp := RefreshResponse{GlobalDetail: *req.GlobalDetail}
	err := h.call(r, func() {
		resp.Started = h.manager.Refresh(*req.GlobalDetail)
		resp.Chunks = h.manager.Len()
	})
	if err != nil {
		respondWithCallError(w, err)
		return
	}

	log.Printf("[API] Refresh to detail %d started %d of %d chunks", resp.GlobalDetail, resp.Started, resp.Chunks)
	respondWithJSON(w, http.StatusAccepted, resp)
}

// RemoveChunk handles DELETE /api/chunks?x=&z=. With evict=true the chunk is
// dropped from the manager and its surface destroyed, so in-flight builds are
// discarded. Otherwise only the active surface is cleared.
func (h *ChunkHandlers) RemoveChunk(w http.ResponseWriter, r *http.Request) {
	index, err := parseIndex(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	evict := r.URL.Query().Get("evict") == "true"

	var found bool
	err = h.call(r, func() {
		if evict {
			found = h.manager.Evict(index)
			return
		}
		chunk, ok := h.manager.Chunk(index)
		if ok {
			chunk.Remove()
		}
		found = ok
	})
	if err != nil {
		respondWithCallError(w, err)
		return
	}
	if !found {
		respondWithError(w, http.StatusNotFound, fmt.Sprintf("Chunk %s not found", index))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetChunks handles GET /api/chunks. With x and z it returns that chunk.
func (h *ChunkHandlers) GetChunks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if query.Has("x") || query.Has("z") {
		index, err := parseIndex(r)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		chunk, ok := h.manager.Chunk(index)
		if !ok {
			respondWithError(w, http.StatusNotFound, fmt.Sprintf("Chunk %s not found", index))
			return
		}
		respondWithJSON(w, http.StatusOK, ChunkResponse{Chunk: chunk.Status()})
		return
	}

	statuses := h.manager.Statuses()
	respondWithJSON(w, http.StatusOK, ChunkListResponse{Chunks: statuses, Count: len(statuses)})
}

// GetChunkMesh handles GET /api/chunks/mesh?x=&z=, returning the active mesh
// of a chunk in the compressed wire format.
func (h *ChunkHandlers) GetChunkMesh(w http.ResponseWriter, r *http.Request) {
	index, err := parseIndex(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	s, ok := h.manager.Surface(index)
	if !ok {
		respondWithError(w, http.StatusNotFound, fmt.Sprintf("Chunk %s not found", index))
		return
	}
	active := s.Active()
	if active.Empty() {
		respondWithError(w, http.StatusNotFound, fmt.Sprintf("Chunk %s has no mesh", index))
		return
	}

	geometry, err := compression.CompressAndFormatMesh(active)
	if err != nil {
		log.Printf("[API] Failed to compress mesh for chunk %s: %v", index, err)
		respondWithError(w, http.StatusInternalServerError, "Failed to encode mesh")
		return
	}
	respondWithJSON(w, http.StatusOK, ChunkMeshMessage{
		Chunk:     index,
		Triangles: active.TriangleCount(),
		Geometry:  geometry,
	})
}

// GetStats handles GET /api/stats
func (h *ChunkHandlers) GetStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Chunks:  h.manager.Len(),
		Pending: h.sched.Pending(),
	}
	if h.profiler.IsEnabled() {
		report, err := h.profiler.JSONReport()
		if err != nil {
			log.Printf("[API] Failed to build profiler report: %v", err)
		} else {
			resp.Profiler = report
		}
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// GetGenerations handles GET /api/generations?limit=
func (h *ChunkHandlers) GetGenerations(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		respondWithError(w, http.StatusNotFound, "Generation ledger is disabled")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			respondWithError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = parsed
	}

	generations, err := h.ledger.Recent(r.Context(), limit)
	if err != nil {
		log.Printf("[API] Failed to read generations: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to read generations")
		return
	}

	resp := make([]GenerationResponse, 0, len(generations))
	for _, g := range generations {
		resp = append(resp, GenerationResponse{
			TaskID:      g.TaskID.String(),
			Chunk:       terrain.Index{X: g.ChunkX, Z: g.ChunkZ}.String(),
			Layout:      g.Layout,
			Detail:      g.Detail,
			Seam:        g.Seam,
			Vertices:    g.Vertices,
			Triangles:   g.Triangles,
			SeamQuads:   g.SeamQuads,
			BuildMillis: float64(g.BuildTime.Microseconds()) / 1000,
			Async:       g.Async,
			CommittedAt: g.CommittedAt,
		})
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *ChunkHandlers) call(r *http.Request, fn func()) error {
	ctx, cancel := context.WithTimeout(r.Context(), callTimeout)
	defer cancel()
	return h.sched.Call(ctx, fn)
}

func parseIndex(r *http.Request) (terrain.Index, error) {
	query := r.URL.Query()
	x, err := strconv.Atoi(query.Get("x"))
	if err != nil {
		return terrain.Index{}, errors.New("x must be an integer")
	}
	z, err := strconv.Atoi(query.Get("z"))
	if err != nil {
		return terrain.Index{}, errors.New("z must be an integer")
	}
	return terrain.Index{X: x, Z: z}, nil
}

// decodeAndValidate reads a JSON body into req and checks its validate tags.
// It writes a 400 response and returns false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, req any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(req); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return false
	}

	if err := validate.Struct(req); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return false
		}
		messages := make([]string, 0, len(ve))
		for _, fe := range ve {
			messages = append(messages, fieldMessage(fe))
		}
		respondWithError(w, http.StatusBadRequest, strings.Join(messages, "; "))
		return false
	}
	return true
}

func fieldMessage(fe validator.FieldError) string {
	name := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", name, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", name, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", name, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", name)
	}
}

func respondWithCallError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, terrain.ErrSchedulerStopped):
		respondWithError(w, http.StatusServiceUnavailable, "Terrain scheduler is stopped")
	case errors.Is(err, context.DeadlineExceeded):
		respondWithError(w, http.StatusGatewayTimeout, "Timed out waiting for the terrain owner")
	default:
		log.Printf("[API] Owner call failed: %v", err)
		respondWithError(w, http.StatusServiceUnavailable, "Request cancelled")
	}
}

func respondWithJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[API] Failed to write response: %v", err)
	}
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	})
}

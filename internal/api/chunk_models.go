package api

import (
	"encoding/json"
	"time"

	"github.com/earthring/terrain/internal/terrain"
)

// AddChunkRequest creates a chunk at a grid index
type AddChunkRequest struct {
	X      *int   `json:"x" validate:"required"`
	Z      *int   `json:"z" validate:"required"`
	Layout string `json:"layout" validate:"omitempty,oneof=quad_split skirt"`
}

// ConfigureChunkRequest sets the detail and seam of a chunk and regenerates it
type ConfigureChunkRequest struct {
	X      *int   `json:"x" validate:"required"`
	Z      *int   `json:"z" validate:"required"`
	Detail *int   `json:"detail" validate:"required,min=0,max=10"`
	Seam   string `json:"seam" validate:"omitempty,oneof=top right bottom left none"`
	// Async defaults to true. Synchronous generation commits before the
	// response is written.
	Async *bool `json:"async"`
}

// RefreshRequest regenerates every chunk that is behind GlobalDetail
type RefreshRequest struct {
	GlobalDetail *int `json:"global_detail" validate:"required,min=0,max=10"`
}

// ChunkResponse describes one chunk after an operation
type ChunkResponse struct {
	Chunk terrain.Status `json:"chunk"`
	// Accepted is false when the generation request was dropped because the
	// chunk was already generating or the detail level is degenerate.
	Accepted bool `json:"accepted"`
	Created  bool `json:"created,omitempty"`
}

// ChunkListResponse lists chunk statuses in grid order
type ChunkListResponse struct {
	Chunks []terrain.Status `json:"chunks"`
	Count  int              `json:"count"`
}

// RefreshResponse reports how many chunks started regenerating
type RefreshResponse struct {
	GlobalDetail int `json:"global_detail"`
	Started      int `json:"started"`
	Chunks       int `json:"chunks"`
}

// StatsResponse exposes scheduler and pipeline timings
type StatsResponse struct {
	Chunks   int             `json:"chunks"`
	Pending  int             `json:"pending"`
	Profiler json.RawMessage `json:"profiler,omitempty"`
}

// GenerationResponse is one ledger row
type GenerationResponse struct {
	TaskID      string    `json:"task_id"`
	Chunk       string    `json:"chunk"`
	Layout      string    `json:"layout"`
	Detail      int       `json:"detail"`
	Seam        string    `json:"seam"`
	Vertices    int       `json:"vertices"`
	Triangles   int       `json:"triangles"`
	SeamQuads   []int64   `json:"seam_quads"`
	BuildMillis float64   `json:"build_ms"`
	Async       bool      `json:"async"`
	CommittedAt time.Time `json:"committed_at"`
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

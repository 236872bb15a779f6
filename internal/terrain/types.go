package terrain

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/earthring/terrain/internal/mesh"
)

// Index addresses a chunk on the world grid.
type Index struct {
	X int `json:"x"`
	Z int `json:"z"`
}

func (i Index) String() string {
	return fmt.Sprintf("%d,%d", i.X, i.Z)
}

// Ring returns the Chebyshev distance of the chunk from the origin chunk.
func (i Index) Ring() int {
	return max(abs(i.X), abs(i.Z))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// State is the generation state of a chunk.
type State int

const (
	StateIdle State = iota
	StateGenerating
	StateReady
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGenerating:
		return "generating"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Task is one generation pass of a chunk.
type Task struct {
	ID      uuid.UUID
	Index   Index
	Params  mesh.Params
	Offset  float64
	Started time.Time
}

func newTask(index Index, params mesh.Params, offset float64) Task {
	return Task{
		ID:      uuid.New(),
		Index:   index,
		Params:  params,
		Offset:  offset,
		Started: time.Now(),
	}
}

// CommitEvent describes a generation that reached its sink, or with an
// empty Result, a mesh that was removed from it.
type CommitEvent struct {
	Task      Task
	Result    *mesh.Result
	SeamQuads []int
	// BuildTime is the time spent in the pipeline, excluding queueing.
	BuildTime time.Duration
	Async     bool
}

// Cleared reports whether the event retires the chunk's mesh instead of
// committing a new one.
func (e CommitEvent) Cleared() bool {
	return e.Result.Empty()
}

// Status is a point-in-time view of a chunk.
type Status struct {
	Index     Index     `json:"index"`
	Layout    string    `json:"layout"`
	Detail    int       `json:"detail"`
	Seam      string    `json:"seam"`
	State     string    `json:"state"`
	Created   bool      `json:"created"`
	Vertices  int       `json:"vertices"`
	Triangles int       `json:"triangles"`
	Commits   uint64    `json:"commits"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

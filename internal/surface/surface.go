package surface

import (
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/earthring/terrain/internal/mesh"
)

// Sink receives finished meshes for one chunk. Commit and Clear are only
// called from the owning context; Alive may be called from anywhere.
type Sink interface {
	Commit(result *mesh.Result)
	Clear()
	Alive() bool
}

// Surface is the in-process Sink: it holds at most one active mesh and,
// when collision is enabled, the triangle soup built from it.
type Surface struct {
	mu        sync.RWMutex
	name      string
	active    *mesh.Result
	collision []mgl32.Vec3
	commits   uint64

	withCollision bool
	destroyed     atomic.Bool
}

// New creates a live, empty surface.
func New(name string, withCollision bool) *Surface {
	return &Surface{
		name:          name,
		withCollision: withCollision,
	}
}

// Name returns the label the surface was created with.
func (s *Surface) Name() string {
	return s.name
}

// Commit replaces the active mesh. The previous mesh and its collision
// shape are discarded. Commits on a destroyed surface are ignored.
func (s *Surface) Commit(result *mesh.Result) {
	if s.destroyed.Load() {
		return
	}

	var faces []mgl32.Vec3
	if s.withCollision && !result.Empty() {
		faces = result.Faces()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if result.Empty() {
		s.active = nil
	} else {
		s.active = result
	}
	s.collision = faces
	s.commits++
}

// Clear drops the active mesh without destroying the surface.
func (s *Surface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = nil
	s.collision = nil
}

// Destroy clears the surface and marks it dead. Alive reports false
// afterwards and later commits are ignored.
func (s *Surface) Destroy() {
	s.destroyed.Store(true)
	s.Clear()
}

// Alive reports whether the surface can still accept commits.
func (s *Surface) Alive() bool {
	return !s.destroyed.Load()
}

// Active returns the current mesh, or nil.
func (s *Surface) Active() *mesh.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SurfaceCount is 0 or 1.
func (s *Surface) SurfaceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return 0
	}
	return 1
}

// Collision returns the collision triangle soup, three positions per face.
func (s *Surface) Collision() []mgl32.Vec3 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collision
}

// Commits returns how many commits the surface has accepted.
func (s *Surface) Commits() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

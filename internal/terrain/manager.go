package terrain

import (
	"log"
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/earthring/terrain/internal/mesh"
	"github.com/earthring/terrain/internal/surface"
)

// OffsetPolicy returns the noise sampling offset for a chunk.
type OffsetPolicy func(index Index, chunkSize float32, layout mesh.Layout) float64

// RingOffset gives every ring of skirt chunks around the origin its own
// region of the noise field: ring*(ring-1)*3*chunkSize. Quad split chunks
// sample the field unshifted so neighbours stay continuous.
func RingOffset(index Index, chunkSize float32, layout mesh.Layout) float64 {
	if layout != mesh.LayoutSkirt {
		return 0
	}
	ring := index.Ring()
	return float64(ring*(ring-1)*3) * float64(chunkSize)
}

// NoOffset samples every chunk at its world position.
func NoOffset(Index, float32, mesh.Layout) float64 {
	return 0
}

// ManagerConfig holds the settings shared by every chunk of a manager.
type ManagerConfig struct {
	ChunkSize float32
	Collision bool
	Options   mesh.Options
	Offset    OffsetPolicy
}

type entry struct {
	chunk   *Chunk
	surface *surface.Surface
}

// Manager owns the chunks of one terrain, keyed by grid index.
type Manager struct {
	cfg   ManagerConfig
	sched *Scheduler

	mu     sync.RWMutex
	chunks map[Index]*entry
}

// NewManager creates an empty manager. Chunks generate asynchronously on sched.
func NewManager(cfg ManagerConfig, sched *Scheduler) *Manager {
	if cfg.Offset == nil {
		cfg.Offset = RingOffset
	}
	return &Manager{
		cfg:    cfg,
		sched:  sched,
		chunks: make(map[Index]*entry),
	}
}

// ChunkSize returns the world edge length of a chunk.
func (m *Manager) ChunkSize() float32 {
	return m.cfg.ChunkSize
}

// Center returns the world center of the chunk at index.
func (m *Manager) Center(index Index) mgl32.Vec3 {
	return mgl32.Vec3{
		float32(index.X) * m.cfg.ChunkSize,
		0,
		float32(index.Z) * m.cfg.ChunkSize,
	}
}

// Add creates the chunk at index. It returns the existing chunk and false if
// one is already present.
func (m *Manager) Add(index Index, layout mesh.Layout) (*Chunk, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.chunks[index]; ok {
		return e.chunk, false
	}

	size := m.cfg.ChunkSize
	if layout == mesh.LayoutSkirt {
		size /= 2
	}

	s := surface.New(index.String(), m.cfg.Collision)
	chunk := NewChunk(ChunkConfig{
		Index:   index,
		Center:  m.Center(index),
		Size:    size,
		Layout:  layout,
		Offset:  m.cfg.Offset(index, m.cfg.ChunkSize, layout),
		Options: m.cfg.Options,
	}, s, m.sched)

	m.chunks[index] = &entry{chunk: chunk, surface: s}
	return chunk, true
}

// Populate adds every chunk within radius rings of the origin and returns
// how many were created.
func (m *Manager) Populate(radius int, layout mesh.Layout) int {
	added := 0
	for z := -radius; z <= radius; z++ {
		for x := -radius; x <= radius; x++ {
			if _, ok := m.Add(Index{X: x, Z: z}, layout); ok {
				added++
			}
		}
	}
	return added
}

// Chunk returns the chunk at index.
func (m *Manager) Chunk(index Index) (*Chunk, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.chunks[index]
	if !ok {
		return nil, false
	}
	return e.chunk, true
}

// Surface returns the surface the chunk at index commits into.
func (m *Manager) Surface(index Index) (*surface.Surface, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.chunks[index]
	if !ok {
		return nil, false
	}
	return e.surface, true
}

// Evict destroys the chunk's surface and forgets the chunk. A generation
// still in flight completes and is dropped at commit. Like Remove, evicting a
// generated chunk emits a cleared commit event.
func (m *Manager) Evict(index Index) bool {
	m.mu.Lock()
	e, ok := m.chunks[index]
	delete(m.chunks, index)
	m.mu.Unlock()

	if !ok {
		return false
	}
	e.surface.Destroy()
	e.chunk.retire()
	log.Printf("[Terrain] Evicted chunk %s", index)
	return true
}

// Len returns the number of chunks.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}

// Chunks returns all chunks ordered by Z then X.
func (m *Manager) Chunks() []*Chunk {
	m.mu.RLock()
	chunks := make([]*Chunk, 0, len(m.chunks))
	for _, e := range m.chunks {
		chunks = append(chunks, e.chunk)
	}
	m.mu.RUnlock()

	sort.Slice(chunks, func(i, j int) bool {
		a, b := chunks[i].Index(), chunks[j].Index()
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		return a.X < b.X
	})
	return chunks
}

// Statuses returns a snapshot of every chunk in Chunks order.
func (m *Manager) Statuses() []Status {
	chunks := m.Chunks()
	statuses := make([]Status, len(chunks))
	for i, c := range chunks {
		statuses[i] = c.Status()
	}
	return statuses
}

// Refresh regenerates every chunk that is not up to date with globalDetail,
// keeping each chunk's seam side. It returns how many generations started.
func (m *Manager) Refresh(globalDetail int) int {
	started := 0
	for _, c := range m.Chunks() {
		if c.Refresh(globalDetail, c.Seam()) {
			started++
		}
	}
	return started
}

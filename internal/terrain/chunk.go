package terrain

import (
	"log"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/earthring/terrain/internal/mesh"
	"github.com/earthring/terrain/internal/performance"
	"github.com/earthring/terrain/internal/surface"
)

// ChunkConfig describes a chunk's fixed identity.
type ChunkConfig struct {
	Index  Index
	Center mgl32.Vec3
	// Size is passed to the pipeline as is: the edge length for the quad
	// split layout, the half-extent for the skirt layout.
	Size   float32
	Layout mesh.Layout
	// Offset shifts noise sampling for this chunk.
	Offset  float64
	Options mesh.Options
}

// Chunk is one terrain tile and its generation state. Configure, Generate,
// GenerateAsync, Refresh and Remove belong to the owner context; Status may
// be read from anywhere.
type Chunk struct {
	cfg   ChunkConfig
	sink  surface.Sink
	sched *Scheduler

	mu        sync.Mutex
	detail    int
	seam      mesh.SeamSide
	state     State
	created   bool
	built     mesh.Params
	vertices  int
	triangles int
	commits   uint64
	updatedAt time.Time
}

// NewChunk creates an idle chunk writing into sink. sched may be nil for
// chunks that are only generated synchronously.
func NewChunk(cfg ChunkConfig, sink surface.Sink, sched *Scheduler) *Chunk {
	return &Chunk{
		cfg:   cfg,
		sink:  sink,
		sched: sched,
		seam:  mesh.SeamNone,
	}
}

// Index returns the chunk's grid index.
func (c *Chunk) Index() Index {
	return c.cfg.Index
}

// Sink returns the surface the chunk commits into.
func (c *Chunk) Sink() surface.Sink {
	return c.sink
}

// Configure sets the detail and seam side used by the next generation.
func (c *Chunk) Configure(detail int, seam mesh.SeamSide) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detail = detail
	c.seam = seam
}

// Seam returns the configured seam side.
func (c *Chunk) Seam() mesh.SeamSide {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seam
}

// State returns the current generation state.
func (c *Chunk) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsUpToDate reports whether the committed mesh was built at globalDetail.
func (c *Chunk) IsUpToDate(globalDetail int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.created && c.built.Detail == globalDetail
}

// Generate runs the pipeline on the calling goroutine and commits inline.
// It returns false when the request was dropped.
func (c *Chunk) Generate() bool {
	task, _, ok := c.begin()
	if !ok {
		return false
	}

	start := time.Now()
	result := mesh.Build(task.Params, c.options(task.Offset))
	c.commit(task, result, time.Since(start), false)
	return true
}

// GenerateAsync runs the pipeline on the scheduler's pool. The commit runs
// later on the owner context. It returns false when the request was dropped.
func (c *Chunk) GenerateAsync() bool {
	if c.sched == nil {
		return false
	}

	task, prev, ok := c.begin()
	if !ok {
		return false
	}

	opts := c.options(task.Offset)
	submitted := c.sched.submit(func() func() {
		start := time.Now()
		result := mesh.Build(task.Params, opts)
		elapsed := time.Since(start)
		return func() {
			c.commit(task, result, elapsed, true)
		}
	})
	if !submitted {
		c.mu.Lock()
		c.state = prev
		c.mu.Unlock()
		return false
	}
	return true
}

// Refresh reconfigures and regenerates asynchronously unless the chunk is
// already generating or up to date with globalDetail.
func (c *Chunk) Refresh(globalDetail int, seam mesh.SeamSide) bool {
	c.mu.Lock()
	busy := c.state == StateGenerating
	current := c.created && c.built.Detail == globalDetail && c.built.Seam == seam
	c.mu.Unlock()

	if busy || current {
		return false
	}

	c.Configure(globalDetail, seam)
	return c.GenerateAsync()
}

// Remove retires the active surface. The chunk stays usable. Commit hooks
// see the retirement as an event with an empty result.
func (c *Chunk) Remove() {
	c.sink.Clear()
	c.retire()
}

// retire forgets the committed mesh and, when there was one, notifies the
// commit hooks with an empty result built from its parameters.
func (c *Chunk) retire() {
	c.mu.Lock()
	created := c.created
	built := c.built
	c.created = false
	c.vertices = 0
	c.triangles = 0
	if c.state == StateReady {
		c.state = StateIdle
	}
	c.updatedAt = time.Now()
	c.mu.Unlock()

	if !created || c.sched == nil {
		return
	}
	c.sched.notify(CommitEvent{
		Task:   newTask(c.cfg.Index, built, c.cfg.Offset),
		Result: &mesh.Result{},
	})
}

// begin moves the chunk to StateGenerating and captures the parameters of
// the pass. Requests while generating and degenerate detail levels are
// dropped.
func (c *Chunk) begin() (Task, State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateGenerating {
		if c.sched != nil && c.sched.debug {
			log.Printf("[Terrain] Chunk %s is generating, dropping request", c.cfg.Index)
		}
		return Task{}, c.state, false
	}

	params := mesh.Params{
		Center: c.cfg.Center,
		Size:   c.cfg.Size,
		Detail: c.detail,
		Seam:   c.seam,
		Layout: c.cfg.Layout,
	}
	if !buildable(params) {
		return Task{}, c.state, false
	}

	prev := c.state
	c.state = StateGenerating
	return newTask(c.cfg.Index, params, c.cfg.Offset), prev, true
}

func buildable(p mesh.Params) bool {
	if p.Size <= 0 {
		return false
	}
	if p.Layout == mesh.LayoutSkirt {
		return p.Detail > 0
	}
	return mesh.QuadsInRow(p.Detail) > 0
}

func (c *Chunk) options(offset float64) mesh.Options {
	opts := c.cfg.Options
	opts.Offset = offset
	return opts
}

// commit hands a finished mesh to the sink. It runs on the owner context.
func (c *Chunk) commit(task Task, result *mesh.Result, buildTime time.Duration, async bool) {
	op := c.cfg.Options.Profiler.Start(performance.StageCommit)
	defer op.End()

	if !c.sink.Alive() {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		log.Printf("[Terrain] Chunk %s: sink destroyed, dropping generation %s", c.cfg.Index, task.ID)
		return
	}

	c.sink.Commit(result)

	c.mu.Lock()
	c.state = StateReady
	c.created = true
	c.built = task.Params
	c.vertices = len(result.Vertices)
	c.triangles = result.TriangleCount()
	c.commits++
	c.updatedAt = time.Now()
	c.mu.Unlock()

	if c.sched == nil {
		return
	}

	var seamQuads []int
	if task.Params.Layout == mesh.LayoutQuadSplit {
		seamQuads = mesh.EdgeQuads(task.Params.Seam, mesh.QuadsInRow(task.Params.Detail))
	}
	if c.sched.debug {
		log.Printf("[Terrain] Chunk %s committed detail=%d seam=%s (%d triangles, build %v)",
			c.cfg.Index, task.Params.Detail, task.Params.Seam, result.TriangleCount(), buildTime)
	}
	c.sched.notify(CommitEvent{
		Task:      task,
		Result:    result,
		SeamQuads: seamQuads,
		BuildTime: buildTime,
		Async:     async,
	})
}

// Status returns a snapshot of the chunk.
func (c *Chunk) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Status{
		Index:     c.cfg.Index,
		Layout:    c.cfg.Layout.String(),
		Detail:    c.detail,
		Seam:      c.seam.String(),
		State:     c.state.String(),
		Created:   c.created,
		Vertices:  c.vertices,
		Triangles: c.triangles,
		Commits:   c.commits,
		UpdatedAt: c.updatedAt,
	}
}

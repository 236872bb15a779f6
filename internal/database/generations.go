package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/earthring/terrain/internal/terrain"
)

// Generation is one committed chunk generation as stored in the ledger.
// Mesh buffers are never stored, only their shape.
type Generation struct {
	ID          int64
	TaskID      uuid.UUID
	ChunkX      int
	ChunkZ      int
	Layout      string
	Detail      int
	Seam        string
	Vertices    int
	Triangles   int
	SeamQuads   []int64
	BuildTime   time.Duration
	Async       bool
	CommittedAt time.Time
}

// GenerationFromEvent converts a commit event into a ledger row.
func GenerationFromEvent(event terrain.CommitEvent) Generation {
	quads := make([]int64, len(event.SeamQuads))
	for i, q := range event.SeamQuads {
		quads[i] = int64(q)
	}
	return Generation{
		TaskID:      event.Task.ID,
		ChunkX:      event.Task.Index.X,
		ChunkZ:      event.Task.Index.Z,
		Layout:      event.Task.Params.Layout.String(),
		Detail:      event.Task.Params.Detail,
		Seam:        event.Task.Params.Seam.String(),
		Vertices:    len(event.Result.Vertices),
		Triangles:   event.Result.TriangleCount(),
		SeamQuads:   quads,
		BuildTime:   event.BuildTime,
		Async:       event.Async,
		CommittedAt: time.Now(),
	}
}

// GenerationLog appends committed generations to the terrain_generations table
type GenerationLog struct {
	db *sql.DB
}

// NewGenerationLog creates a new generation log
func NewGenerationLog(db *sql.DB) *GenerationLog {
	return &GenerationLog{db: db}
}

// EnsureSchema creates the ledger table if it does not exist
func (l *GenerationLog) EnsureSchema(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS terrain_generations (
			id           BIGSERIAL PRIMARY KEY,
			task_id      UUID NOT NULL UNIQUE,
			chunk_x      INTEGER NOT NULL,
			chunk_z      INTEGER NOT NULL,
			layout       TEXT NOT NULL,
			detail       INTEGER NOT NULL CHECK (detail >= 0),
			seam         TEXT NOT NULL,
			vertices     INTEGER NOT NULL,
			triangles    INTEGER NOT NULL,
			seam_quads   BIGINT[] NOT NULL DEFAULT '{}',
			build_micros BIGINT NOT NULL,
			async        BOOLEAN NOT NULL,
			committed_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_terrain_generations_chunk
			ON terrain_generations (chunk_x, chunk_z, committed_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("failed to create terrain_generations: %w", err)
	}
	return nil
}

// Record inserts one generation and returns its row id
func (l *GenerationLog) Record(ctx context.Context, g Generation) (int64, error) {
	if g.Detail < 0 {
		return 0, fmt.Errorf("invalid detail: %d (must be >= 0)", g.Detail)
	}
	if g.CommittedAt.IsZero() {
		g.CommittedAt = time.Now()
	}
	quads := g.SeamQuads
	if quads == nil {
		quads = []int64{}
	}

	var id int64
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO terrain_generations
			(task_id, chunk_x, chunk_z, layout, detail, seam, vertices, triangles,
			 seam_quads, build_micros, async, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`,
		g.TaskID.String(), g.ChunkX, g.ChunkZ, g.Layout, g.Detail, g.Seam,
		g.Vertices, g.Triangles, pq.Array(quads), g.BuildTime.Microseconds(),
		g.Async, g.CommittedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to record generation for chunk %d,%d: %w", g.ChunkX, g.ChunkZ, err)
	}
	return id, nil
}

// Recent returns up to limit generations, newest first
func (l *GenerationLog) Recent(ctx context.Context, limit int) ([]Generation, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("invalid limit: %d (must be > 0)", limit)
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, task_id, chunk_x, chunk_z, layout, detail, seam, vertices,
		       triangles, seam_quads, build_micros, async, committed_at
		FROM terrain_generations
		ORDER BY committed_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query generations: %w", err)
	}
	defer rows.Close()

	var generations []Generation
	for rows.Next() {
		var g Generation
		var taskID string
		var micros int64
		if err := rows.Scan(
			&g.ID, &taskID, &g.ChunkX, &g.ChunkZ, &g.Layout, &g.Detail, &g.Seam,
			&g.Vertices, &g.Triangles, pq.Array(&g.SeamQuads), &micros, &g.Async,
			&g.CommittedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan generation: %w", err)
		}
		if g.TaskID, err = uuid.Parse(taskID); err != nil {
			return nil, fmt.Errorf("invalid task id %q: %w", taskID, err)
		}
		g.BuildTime = time.Duration(micros) * time.Microsecond
		generations = append(generations, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating generations: %w", err)
	}
	return generations, nil
}

// CountForChunk returns how many generations were recorded for a chunk
func (l *GenerationLog) CountForChunk(ctx context.Context, index terrain.Index) (int, error) {
	var count int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM terrain_generations WHERE chunk_x = $1 AND chunk_z = $2`,
		index.X, index.Z,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count generations for chunk %s: %w", index, err)
	}
	return count, nil
}

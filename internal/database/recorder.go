package database

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/earthring/terrain/internal/terrain"
)

// GenerationWriter stores one generation.
type GenerationWriter interface {
	Record(ctx context.Context, g Generation) (int64, error)
}

// Recorder writes generations off the commit path. Enqueue never blocks; a
// full buffer drops the row.
type Recorder struct {
	writer  GenerationWriter
	queue   chan Generation
	dropped atomic.Int64
	written atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewRecorder creates a recorder with room for buffer pending rows
func NewRecorder(writer GenerationWriter, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 64
	}
	return &Recorder{
		writer: writer,
		queue:  make(chan Generation, buffer),
		done:   make(chan struct{}),
	}
}

// Enqueue schedules g for writing and reports whether it was accepted
func (r *Recorder) Enqueue(g Generation) bool {
	select {
	case r.queue <- g:
		return true
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			log.Printf("[Ledger] Queue full, dropped %d generations so far", n)
		}
		return false
	}
}

// Observe is a commit hook that enqueues one row per generation. Cleared
// events carry no generation and are skipped.
func (r *Recorder) Observe(event terrain.CommitEvent) {
	if event.Cleared() {
		return
	}
	r.Enqueue(GenerationFromEvent(event))
}

// Run writes queued rows until Close is called or ctx is done. Rows still
// queued at Close are written before Run returns.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case g := <-r.queue:
			r.write(ctx, g)
		case <-r.done:
			for {
				select {
				case g := <-r.queue:
					r.write(ctx, g)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, g Generation) {
	if _, err := r.writer.Record(ctx, g); err != nil {
		log.Printf("[Ledger] %v", err)
		return
	}
	r.written.Add(1)
}

// Close stops Run after the queue drains
func (r *Recorder) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}

// Written returns how many rows were stored
func (r *Recorder) Written() int64 {
	return r.written.Load()
}

// Dropped returns how many rows were discarded because the queue was full
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

package performance

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// Stage names recorded by the generation pipeline.
const (
	StageTriangulate = "mesh.triangulate"
	StageDisplace    = "mesh.displace"
	StageNormals     = "mesh.normals"
	StageSkirts      = "mesh.skirts"
	StageBuild       = "mesh.build"
	StageCommit      = "terrain.commit"
)

// Profiler tracks timing statistics for pipeline stages. A nil *Profiler is
// valid and records nothing.
type Profiler struct {
	mu        sync.RWMutex
	metrics   map[string]*Metric
	enabled   bool
	startTime time.Time
}

// Metric tracks statistics for a specific stage
type Metric struct {
	Name      string
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
	LastTime  time.Duration
	LastCall  time.Time
	mu        sync.Mutex
}

// Operation represents a single timed stage run
type Operation struct {
	profiler *Profiler
	name     string
	start    time.Time
}

// NewProfiler creates a new profiler
func NewProfiler(enabled bool) *Profiler {
	return &Profiler{
		metrics:   make(map[string]*Metric),
		enabled:   enabled,
		startTime: time.Now(),
	}
}

// Start begins timing a stage. It returns nil when profiling is off.
func (p *Profiler) Start(name string) *Operation {
	if !p.IsEnabled() {
		return nil
	}
	return &Operation{
		profiler: p,
		name:     name,
		start:    time.Now(),
	}
}

// End completes timing and records the metric
func (o *Operation) End() time.Duration {
	if o == nil {
		return 0
	}
	duration := time.Since(o.start)
	if o.profiler.IsEnabled() {
		o.profiler.record(o.name, duration)
	}
	return duration
}

// Time runs fn and records its duration under name.
func (p *Profiler) Time(name string, fn func()) {
	op := p.Start(name)
	fn()
	op.End()
}

// Record directly records a duration for a stage
func (p *Profiler) Record(name string, duration time.Duration) {
	if !p.IsEnabled() {
		return
	}
	p.record(name, duration)
}

func (p *Profiler) record(name string, duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	metric, exists := p.metrics[name]
	if !exists {
		metric = &Metric{
			Name:    name,
			MinTime: duration,
			MaxTime: duration,
		}
		p.metrics[name] = metric
	}

	metric.mu.Lock()
	defer metric.mu.Unlock()

	metric.Count++
	metric.TotalTime += duration
	metric.LastTime = duration
	metric.LastCall = time.Now()

	if duration < metric.MinTime {
		metric.MinTime = duration
	}
	if duration > metric.MaxTime {
		metric.MaxTime = duration
	}
}

// GetMetric returns a copy of the statistics for one stage, or nil.
func (p *Profiler) GetMetric(name string) *Metric {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	metric, ok := p.metrics[name]
	if !ok {
		return nil
	}
	return metric.snapshot()
}

// GetMetrics returns copies of all metrics
func (p *Profiler) GetMetrics() map[string]*Metric {
	result := make(map[string]*Metric)
	if p == nil {
		return result
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	for name, metric := range p.metrics {
		result[name] = metric.snapshot()
	}
	return result
}

func (m *Metric) snapshot() *Metric {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &Metric{
		Name:      m.Name,
		Count:     m.Count,
		TotalTime: m.TotalTime,
		MinTime:   m.MinTime,
		MaxTime:   m.MaxTime,
		LastTime:  m.LastTime,
		LastCall:  m.LastCall,
	}
}

// AverageTime returns the average time for a metric
func (m *Metric) AverageTime() time.Duration {
	if m.Count == 0 {
		return 0
	}
	return m.TotalTime / time.Duration(m.Count)
}

// Reset clears all metrics
func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = make(map[string]*Metric)
	p.startTime = time.Now()
}

// Report generates a human-readable report, stages sorted by name.
func (p *Profiler) Report() string {
	metrics := p.GetMetrics()
	if len(metrics) == 0 {
		return "No pipeline metrics recorded"
	}

	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	p.mu.RLock()
	started := p.startTime
	p.mu.RUnlock()

	report := fmt.Sprintf("\n=== Pipeline Report (since %s) ===\n", started.Format(time.RFC3339))
	report += fmt.Sprintf("%-24s %10s %12s %12s %12s %12s\n", "Stage", "Count", "Avg", "Min", "Max", "Last")
	for _, name := range names {
		metric := metrics[name]
		report += fmt.Sprintf("%-24s %10d %12s %12s %12s %12s\n",
			name,
			metric.Count,
			metric.AverageTime().Round(time.Microsecond),
			metric.MinTime.Round(time.Microsecond),
			metric.MaxTime.Round(time.Microsecond),
			metric.LastTime.Round(time.Microsecond),
		)
	}

	report += fmt.Sprintf("\nTotal runtime: %s\n", time.Since(started).Round(time.Second))
	return report
}

// LogReport logs the report
func (p *Profiler) LogReport() {
	log.Print(p.Report())
}

// MetricJSON is the wire form of a Metric; durations are in microseconds.
type MetricJSON struct {
	Name     string    `json:"name"`
	Count    int64     `json:"count"`
	TotalUS  int64     `json:"total_us"`
	AvgUS    int64     `json:"avg_us"`
	MinUS    int64     `json:"min_us"`
	MaxUS    int64     `json:"max_us"`
	LastUS   int64     `json:"last_us"`
	LastCall time.Time `json:"last_call"`
}

// ReportJSON is the wire form of a full report.
type ReportJSON struct {
	StartTime time.Time              `json:"start_time"`
	RuntimeMS int64                  `json:"runtime_ms"`
	Metrics   map[string]*MetricJSON `json:"metrics"`
}

// JSONReport generates a JSON report
func (p *Profiler) JSONReport() ([]byte, error) {
	metrics := p.GetMetrics()

	var started time.Time
	if p != nil {
		p.mu.RLock()
		started = p.startTime
		p.mu.RUnlock()
	}

	report := ReportJSON{
		StartTime: started,
		RuntimeMS: time.Since(started).Milliseconds(),
		Metrics:   make(map[string]*MetricJSON, len(metrics)),
	}

	for name, metric := range metrics {
		report.Metrics[name] = &MetricJSON{
			Name:     metric.Name,
			Count:    metric.Count,
			TotalUS:  metric.TotalTime.Microseconds(),
			AvgUS:    metric.AverageTime().Microseconds(),
			MinUS:    metric.MinTime.Microseconds(),
			MaxUS:    metric.MaxTime.Microseconds(),
			LastUS:   metric.LastTime.Microseconds(),
			LastCall: metric.LastCall,
		}
	}

	return json.MarshalIndent(report, "", "  ")
}

// Enable enables profiling
func (p *Profiler) Enable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = true
}

// Disable disables profiling
func (p *Profiler) Disable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = false
}

// IsEnabled returns whether profiling is enabled
func (p *Profiler) IsEnabled() bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled
}

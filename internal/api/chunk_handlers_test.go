package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/earthring/terrain/internal/auth"
	"github.com/earthring/terrain/internal/compression"
	"github.com/earthring/terrain/internal/database"
	"github.com/earthring/terrain/internal/mesh"
	"github.com/earthring/terrain/internal/performance"
	"github.com/earthring/terrain/internal/terrain"
	"github.com/earthring/terrain/internal/testutil"
)

type fakeLedger struct {
	generations []database.Generation
	err         error
	lastLimit   int
}

func (l *fakeLedger) Recent(ctx context.Context, limit int) ([]database.Generation, error) {
	l.lastLimit = limit
	return l.generations, l.err
}

type testEnv struct {
	handler  http.Handler
	fixtures *testutil.TestFixtures
	sched    *terrain.Scheduler
	manager  *terrain.Manager
	hub      *WebSocketHub
	operator *testutil.HTTPTestHelper
	viewer   *testutil.HTTPTestHelper
	anon     *testutil.HTTPTestHelper
}

func newTestEnv(t *testing.T, ledger GenerationSource) *testEnv {
	t.Helper()

	fixtures := testutil.NewTestFixtures()
	sched := testutil.StartScheduler(t, 2)
	manager := testutil.NewTestManager(sched, false)

	hub := NewWebSocketHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	sched.OnCommit(hub.BroadcastCommit)

	deps := Dependencies{
		Manager:   manager,
		Scheduler: sched,
		Profiler:  performance.NewProfiler(true),
		Hub:       hub,
		JWT:       fixtures.JWT,
		Layout:    mesh.LayoutQuadSplit,
	}
	if ledger != nil {
		deps.Ledger = ledger
	}

	handler, err := NewRouter(fixtures.Config, deps)
	if err != nil {
		t.Fatalf("NewRouter() failed: %v", err)
	}

	base := testutil.NewHTTPTestHelper(handler)
	return &testEnv{
		handler:  handler,
		fixtures: fixtures,
		sched:    sched,
		manager:  manager,
		hub:      hub,
		operator: base.WithToken(fixtures.Token(t, auth.RoleOperator)),
		viewer:   base.WithToken(fixtures.Token(t, auth.RoleViewer)),
		anon:     base,
	}
}

func (e *testEnv) addChunk(t *testing.T, x, z int, layout string) {
	t.Helper()
	body := map[string]any{"x": x, "z": z}
	if layout != "" {
		body["layout"] = layout
	}
	rr := e.operator.MakeRequest(http.MethodPost, "/api/chunks", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("add chunk %d,%d: expected 201, got %d: %s", x, z, rr.Code, rr.Body.String())
	}
}

func (e *testEnv) status(t *testing.T, x, z int) terrain.Status {
	t.Helper()
	chunk, ok := e.manager.Chunk(terrain.Index{X: x, Z: z})
	if !ok {
		t.Fatalf("chunk %d,%d not found", x, z)
	}
	return chunk.Status()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.anon.MakeRequest(http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var body map[string]any
	if err := testutil.DecodeJSON(rr, &body); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", body["status"])
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("Expected security headers on every response")
	}
}

func TestChunkRoutesAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name       string
		helper     *testutil.HTTPTestHelper
		method     string
		path       string
		body       any
		wantStatus int
	}{
		{"list without token", env.anon, http.MethodGet, "/api/chunks", nil, http.StatusUnauthorized},
		{"list as viewer", env.viewer, http.MethodGet, "/api/chunks", nil, http.StatusOK},
		{"stats as viewer", env.viewer, http.MethodGet, "/api/stats", nil, http.StatusOK},
		{"add as viewer", env.viewer, http.MethodPost, "/api/chunks", map[string]int{"x": 0, "z": 0}, http.StatusForbidden},
		{"refresh as viewer", env.viewer, http.MethodPost, "/api/chunks/refresh", map[string]int{"global_detail": 1}, http.StatusForbidden},
		{"delete without token", env.anon, http.MethodDelete, "/api/chunks?x=0&z=0", nil, http.StatusUnauthorized},
		{"wrong method", env.operator, http.MethodPut, "/api/chunks", nil, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := tt.helper.MakeRequest(tt.method, tt.path, tt.body)
			if rr.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestAddChunk(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.operator.MakeRequest(http.MethodPost, "/api/chunks", map[string]int{"x": 1, "z": -2})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp ChunkResponse
	if err := testutil.DecodeJSON(rr, &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !resp.Created || resp.Chunk.Index != (terrain.Index{X: 1, Z: -2}) {
		t.Errorf("Unexpected response %+v", resp)
	}
	if resp.Chunk.Layout != "quad_split" || resp.Chunk.State != "idle" {
		t.Errorf("Expected idle quad_split chunk, got %s/%s", resp.Chunk.Layout, resp.Chunk.State)
	}

	// Adding again returns the existing chunk
	rr = env.operator.MakeRequest(http.MethodPost, "/api/chunks", map[string]int{"x": 1, "z": -2})
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200 for existing chunk, got %d", rr.Code)
	}

	rr = env.operator.MakeRequest(http.MethodPost, "/api/chunks", map[string]any{"x": 3, "z": 3, "layout": "skirt"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := env.status(t, 3, 3).Layout; got != "skirt" {
		t.Errorf("Expected skirt layout, got %s", got)
	}
}

func TestAddChunkValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name    string
		body    any
		wantMsg string
	}{
		{"missing x", map[string]int{"z": 0}, "x is required"},
		{"unknown layout", map[string]any{"x": 0, "z": 0, "layout": "hex"}, "layout must be one of"},
		{"unknown field", map[string]any{"x": 0, "z": 0, "floor": 2}, "unknown field"},
		{"malformed json", "{", "Invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.operator.MakeRequest(http.MethodPost, "/api/chunks", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("Expected status 400, got %d", rr.Code)
			}
			var resp ErrorResponse
			if err := testutil.DecodeJSON(rr, &resp); err != nil {
				t.Fatalf("Failed to decode error: %v", err)
			}
			if !strings.Contains(resp.Message, tt.wantMsg) {
				t.Errorf("Expected message containing %q, got %q", tt.wantMsg, resp.Message)
			}
		})
	}
}

func TestConfigureChunkSync(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addChunk(t, 0, 0, "")

	rr := env.operator.MakeRequest(http.MethodPost, "/api/chunks/configure", map[string]any{
		"x": 0, "z": 0, "detail": 1, "seam": "right", "async": false,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp ChunkResponse
	if err := testutil.DecodeJSON(rr, &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !resp.Accepted {
		t.Error("Expected generation to be accepted")
	}
	if resp.Chunk.State != "ready" || !resp.Chunk.Created {
		t.Errorf("Expected a ready chunk, got %+v", resp.Chunk)
	}
	if resp.Chunk.Vertices != 36 || resp.Chunk.Triangles != 32 {
		t.Errorf("Expected 36 vertices and 32 triangles, got %d and %d", resp.Chunk.Vertices, resp.Chunk.Triangles)
	}
	if resp.Chunk.Seam != "right" || resp.Chunk.Detail != 1 {
		t.Errorf("Unexpected seam/detail %s/%d", resp.Chunk.Seam, resp.Chunk.Detail)
	}

	// The committed mesh is served in the compressed wire format
	rr = env.viewer.MakeRequest(http.MethodGet, "/api/chunks/mesh?x=0&z=0", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var meshResp ChunkMeshMessage
	if err := testutil.DecodeJSON(rr, &meshResp); err != nil {
		t.Fatalf("Failed to decode mesh: %v", err)
	}
	decoded, err := compression.ParseCompressedGeometry(meshResp.Geometry)
	if err != nil {
		t.Fatalf("ParseCompressedGeometry() failed: %v", err)
	}
	if len(decoded.Vertices) != 36 || decoded.TriangleCount() != 32 {
		t.Errorf("Expected 36 vertices and 32 triangles, got %d and %d", len(decoded.Vertices), decoded.TriangleCount())
	}
	for _, v := range decoded.Vertices {
		if math.Abs(float64(v.Y())-40) > 0.01 {
			t.Fatalf("Expected height 40, got %f", v.Y())
		}
	}
}

func TestConfigureChunkAsync(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addChunk(t, 2, 0, "")

	rr := env.operator.MakeRequest(http.MethodPost, "/api/chunks/configure", map[string]any{
		"x": 2, "z": 0, "detail": 2,
	})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}

	waitFor(t, "async commit", func() bool {
		return env.status(t, 2, 0).State == "ready"
	})
	status := env.status(t, 2, 0)
	if status.Vertices != 144 || status.Triangles != 128 {
		t.Errorf("Expected 144 vertices and 128 triangles, got %d and %d", status.Vertices, status.Triangles)
	}
	if status.Commits != 1 {
		t.Errorf("Expected 1 commit, got %d", status.Commits)
	}
}

func TestConfigureChunkErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addChunk(t, 0, 0, "skirt")

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
	}{
		{"missing chunk", map[string]any{"x": 9, "z": 9, "detail": 1}, http.StatusNotFound},
		{"missing detail", map[string]any{"x": 0, "z": 0}, http.StatusBadRequest},
		{"detail too high", map[string]any{"x": 0, "z": 0, "detail": 11}, http.StatusBadRequest},
		{"negative detail", map[string]any{"x": 0, "z": 0, "detail": -1}, http.StatusBadRequest},
		{"unknown seam", map[string]any{"x": 0, "z": 0, "detail": 1, "seam": "diagonal"}, http.StatusBadRequest},
		{"degenerate skirt", map[string]any{"x": 0, "z": 0, "detail": 0, "async": false}, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.operator.MakeRequest(http.MethodPost, "/api/chunks/configure", tt.body)
			if rr.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}
		})
	}

	if status := env.status(t, 0, 0); status.State != "idle" || status.Created {
		t.Errorf("Expected degenerate request to leave the chunk idle, got %+v", status)
	}
}

func TestRefreshChunks(t *testing.T) {
	env := newTestEnv(t, nil)
	for x := 0; x < 3; x++ {
		env.addChunk(t, x, 0, "")
	}

	rr := env.operator.MakeRequest(http.MethodPost, "/api/chunks/refresh", map[string]int{"global_detail": 1})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp RefreshResponse
	if err := testutil.DecodeJSON(rr, &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Started != 3 || resp.Chunks != 3 || resp.GlobalDetail != 1 {
		t.Errorf("Unexpected refresh response %+v", resp)
	}

	waitFor(t, "refresh commits", func() bool {
		for _, s := range env.manager.Statuses() {
			if s.State != "ready" {
				return false
			}
		}
		return true
	})

	// Everything is up to date now
	rr = env.operator.MakeRequest(http.MethodPost, "/api/chunks/refresh", map[string]int{"global_detail": 1})
	if err := testutil.DecodeJSON(rr, &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Started != 0 {
		t.Errorf("Expected no regeneration, got %d", resp.Started)
	}
}

func TestRemoveChunk(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addChunk(t, 0, 0, "")
	env.operator.MakeRequest(http.MethodPost, "/api/chunks/configure", map[string]any{"x": 0, "z": 0, "detail": 1, "async": false})

	rr := env.operator.MakeRequest(http.MethodDelete, "/api/chunks?x=0&z=0", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if status := env.status(t, 0, 0); status.Created || status.Vertices != 0 {
		t.Errorf("Expected removed chunk, got %+v", status)
	}
	rr = env.viewer.MakeRequest(http.MethodGet, "/api/chunks/mesh?x=0&z=0", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected no mesh after remove, got %d", rr.Code)
	}

	rr = env.operator.MakeRequest(http.MethodDelete, "/api/chunks?x=0&z=0&evict=true", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", rr.Code)
	}
	rr = env.viewer.MakeRequest(http.MethodGet, "/api/chunks?x=0&z=0", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected evicted chunk to be gone, got %d", rr.Code)
	}

	rr = env.operator.MakeRequest(http.MethodDelete, "/api/chunks?x=0&z=0&evict=true", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing chunk, got %d", rr.Code)
	}
	rr = env.operator.MakeRequest(http.MethodDelete, "/api/chunks?x=a&z=0", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad index, got %d", rr.Code)
	}
}

func TestListChunks(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addChunk(t, 1, 1, "")
	env.addChunk(t, 0, 0, "")
	env.addChunk(t, -1, 1, "")

	rr := env.viewer.MakeRequest(http.MethodGet, "/api/chunks", nil)
	var resp ChunkListResponse
	if err := testutil.DecodeJSON(rr, &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Count != 3 {
		t.Fatalf("Expected 3 chunks, got %d", resp.Count)
	}
	want := []terrain.Index{{X: 0, Z: 0}, {X: -1, Z: 1}, {X: 1, Z: 1}}
	for i, s := range resp.Chunks {
		if s.Index != want[i] {
			t.Errorf("chunk %d: expected %v, got %v", i, want[i], s.Index)
		}
	}

	rr = env.viewer.MakeRequest(http.MethodGet, "/api/chunks?x=1", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for partial index, got %d", rr.Code)
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addChunk(t, 0, 0, "")

	rr := env.viewer.MakeRequest(http.MethodGet, "/api/stats", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var resp StatsResponse
	if err := testutil.DecodeJSON(rr, &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Chunks != 1 || resp.Pending != 0 {
		t.Errorf("Unexpected stats %+v", resp)
	}
	if len(resp.Profiler) == 0 {
		t.Error("Expected profiler report")
	}
}

func TestGenerations(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.viewer.MakeRequest(http.MethodGet, "/api/generations", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without a ledger, got %d", rr.Code)
	}

	ledger := &fakeLedger{generations: []database.Generation{{
		TaskID:    uuid.New(),
		ChunkX:    1,
		ChunkZ:    -1,
		Layout:    "quad_split",
		Detail:    2,
		Seam:      "left",
		Vertices:  144,
		Triangles: 128,
		SeamQuads: []int64{0, 4, 8, 12},
		BuildTime: 2 * time.Millisecond,
	}}}
	env = newTestEnv(t, ledger)

	rr = env.viewer.MakeRequest(http.MethodGet, "/api/generations?limit=5", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp []GenerationResponse
	if err := testutil.DecodeJSON(rr, &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if ledger.lastLimit != 5 {
		t.Errorf("Expected limit 5, got %d", ledger.lastLimit)
	}
	if len(resp) != 1 || resp[0].Chunk != "1,-1" || resp[0].BuildMillis != 2 || len(resp[0].SeamQuads) != 4 {
		t.Errorf("Unexpected generations %+v", resp)
	}

	rr = env.viewer.MakeRequest(http.MethodGet, "/api/generations?limit=0", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad limit, got %d", rr.Code)
	}

	ledger.err = errors.New("connection refused")
	rr = env.viewer.MakeRequest(http.MethodGet, "/api/generations", nil)
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500 on ledger failure, got %d", rr.Code)
	}
}

func TestStoppedScheduler(t *testing.T) {
	env := newTestEnv(t, nil)
	env.sched.Stop()

	rr := env.operator.MakeRequest(http.MethodPost, "/api/chunks", map[string]int{"x": 0, "z": 0})
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 after stop, got %d", rr.Code)
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.anon.MakeRequestWithHeaders(http.MethodOptions, "/api/chunks", nil, map[string]string{"Origin": "http://localhost:5173"})
	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected preflight 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Errorf("Expected allowed origin, got %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}

	rr = env.anon.MakeRequestWithHeaders(http.MethodGet, "/health", nil, map[string]string{"Origin": "http://evil.example"})
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("Expected no allow-origin header for unknown origin")
	}
}

package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/earthring/terrain/internal/auth"
	"github.com/earthring/terrain/internal/config"
	"github.com/earthring/terrain/internal/mesh"
	"github.com/earthring/terrain/internal/noise"
	"github.com/earthring/terrain/internal/terrain"
)

// TestSecret signs the tokens issued by TestFixtures
const TestSecret = "test_jwt_secret_key_32_bytes_long!!"

// TestFixtures provides test data generators
type TestFixtures struct {
	Config *config.Config
	JWT    *auth.JWTService
}

// NewTestFixtures creates fixtures around a valid test configuration
func NewTestFixtures() *TestFixtures {
	cfg := TestConfig()
	return &TestFixtures{Config: cfg, JWT: auth.NewJWTService(cfg)}
}

// TestConfig returns a configuration that passes Validate
func TestConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host:        "127.0.0.1",
			Port:        "8080",
			Environment: "test",
			RateLimit:   "1000-M",
			AllowedOrigins: []string{
				"http://localhost:3000",
				"http://localhost:5173",
			},
		},
		Terrain: config.TerrainConfig{
			ChunkSize:     100,
			Amplitude:     mesh.DefaultAmplitude,
			Layout:        mesh.LayoutQuadSplit.String(),
			InitialDetail: 1,
			OffsetPolicy:  "ring",
			Noise:         noise.DefaultConfig(),
		},
		Generation: config.GenerationConfig{Workers: 2, QueueSize: 16},
		Auth: config.AuthConfig{
			JWTSecret:     TestSecret,
			JWTExpiration: time.Hour,
			Issuer:        "terrain-test",
		},
		Logging: config.LoggingConfig{Level: "info"},
	}
}

// RandomSubject returns a unique token subject
func RandomSubject(prefix string) string {
	return prefix + "_" + uuid.NewString()[:8]
}

// Token issues a token for a random subject with role
func (f *TestFixtures) Token(t *testing.T, role string) string {
	t.Helper()
	resp, err := f.JWT.GenerateToken(RandomSubject(role), role)
	if err != nil {
		t.Fatalf("Failed to issue %s token: %v", role, err)
	}
	return resp.Token
}

// StartScheduler creates a scheduler whose owner loop runs on a background
// goroutine for the duration of the test.
func StartScheduler(t *testing.T, workers int) *terrain.Scheduler {
	t.Helper()
	sched := terrain.NewScheduler(terrain.SchedulerConfig{Workers: workers, QueueSize: 64})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, terrain.ErrSchedulerStopped) {
			t.Errorf("scheduler Run() failed: %v", err)
		}
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		sched.Stop()
	})
	return sched
}

// NewTestManager creates a manager over a constant field. Every chunk sits
// at height 40 with no ring offset.
func NewTestManager(sched *terrain.Scheduler, collision bool) *terrain.Manager {
	return terrain.NewManager(terrain.ManagerConfig{
		ChunkSize: 100,
		Collision: collision,
		Options:   mesh.Options{Field: noise.Constant(0.5), Amplitude: mesh.DefaultAmplitude},
		Offset:    terrain.NoOffset,
	}, sched)
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/earthring/terrain/internal/api"
	"github.com/earthring/terrain/internal/auth"
	"github.com/earthring/terrain/internal/config"
	"github.com/earthring/terrain/internal/database"
	"github.com/earthring/terrain/internal/mesh"
	"github.com/earthring/terrain/internal/noise"
	"github.com/earthring/terrain/internal/performance"
	"github.com/earthring/terrain/internal/terrain"
)

func main() {
	var tokenRole, tokenSubject string
	flag.StringVar(&tokenRole, "token", "", "print a token for the given role (viewer or operator) and exit")
	flag.StringVar(&tokenSubject, "subject", "local", "subject of the token printed by -token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if tokenRole != "" {
		if err := printToken(cfg, tokenSubject, tokenRole); err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		return
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Server exited with error: %v", err)
	}
}

func printToken(cfg *config.Config, subject, role string) error {
	if !auth.ValidRole(role) {
		return fmt.Errorf("unknown role %q", role)
	}
	token, err := auth.NewJWTService(cfg).GenerateToken(subject, role)
	if err != nil {
		return err
	}
	fmt.Println(token.Token)
	return nil
}

func run(ctx context.Context, cfg *config.Config) error {
	layout, err := mesh.ParseLayout(cfg.Terrain.Layout)
	if err != nil {
		return err
	}

	profiler := performance.NewProfiler(cfg.Generation.Profile)
	field := noise.NewPerlin(cfg.Terrain.Noise)

	sched := terrain.NewScheduler(terrain.SchedulerConfig{
		Workers:   cfg.Generation.Workers,
		QueueSize: cfg.Generation.QueueSize,
		Debug:     cfg.Logging.IsDebug(),
	})
	defer sched.Stop()

	offset := terrain.RingOffset
	if cfg.Terrain.OffsetPolicy == "none" {
		offset = terrain.NoOffset
	}
	manager := terrain.NewManager(terrain.ManagerConfig{
		ChunkSize: float32(cfg.Terrain.ChunkSize),
		Collision: cfg.Terrain.Collision,
		Options: mesh.Options{
			Field:     field,
			Amplitude: cfg.Terrain.Amplitude,
			Profiler:  profiler,
		},
		Offset: offset,
	}, sched)

	hub := api.NewWebSocketHub()
	go hub.Run(ctx)
	sched.OnCommit(hub.BroadcastCommit)

	deps := api.Dependencies{
		Manager:   manager,
		Scheduler: sched,
		Profiler:  profiler,
		Hub:       hub,
		JWT:       auth.NewJWTService(cfg),
		Layout:    layout,
	}

	if cfg.Database.Enabled {
		db, err := database.Open(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to open generation ledger: %w", err)
		}
		defer db.Close()

		ledger := database.NewGenerationLog(db)
		if err := ledger.EnsureSchema(ctx); err != nil {
			return err
		}
		log.Printf("[Ledger] Recording generations to %s:%d/%s", cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)

		// Queued rows are still written after ctx is cancelled.
		recorder := database.NewRecorder(ledger, 0)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			recorder.Run(context.Background())
		}()
		defer func() {
			recorder.Close()
			wg.Wait()
			log.Printf("[Ledger] Wrote %d generations, dropped %d", recorder.Written(), recorder.Dropped())
		}()

		sched.OnCommit(recorder.Observe)
		deps.Ledger = ledger
	}

	// Nothing else drives the owner context yet, so the initial ring is
	// created and queued from here.
	added := manager.Populate(cfg.Terrain.InitialRadius, layout)
	started := manager.Refresh(cfg.Terrain.InitialDetail)
	log.Printf("[Terrain] Seeded %d chunks around the origin, %d generating at detail %d (seed %d)",
		added, started, cfg.Terrain.InitialDetail, field.Seed())

	router, err := api.NewRouter(cfg, deps)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Starting terrain server on %s (environment: %s)", server.Addr, cfg.Server.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	ownerCtx, stopOwner := context.WithCancel(ctx)
	defer stopOwner()
	go func() {
		if err := <-serverErr; err != nil {
			log.Printf("HTTP server failed: %v", err)
			stopOwner()
		}
	}()

	// The owner loop runs on the main goroutine until shutdown.
	runErr := sched.Run(ownerCtx)
	log.Printf("Shutting down terrain server")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown failed: %v", err)
	}

	profiler.LogReport()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}

		time.AfterFunc(10*time.Second, func() {
			log.Printf("Forced shutdown after timeout")
			os.Exit(1)
		})
	}()

	return ctx, cancel
}

package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/shadowtrace/internal/api"
	"github.com/banshee-data/shadowtrace/internal/config"
	"github.com/banshee-data/shadowtrace/internal/db"
	"github.com/banshee-data/shadowtrace/internal/detect"
	"github.com/banshee-data/shadowtrace/internal/enrich"
	"github.com/banshee-data/shadowtrace/internal/importer"
	"github.com/banshee-data/shadowtrace/internal/learn"
	"github.com/banshee-data/shadowtrace/internal/timeutil"
	"github.com/banshee-data/shadowtrace/internal/version"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	env, err := config.LoadEnv()
	if err != nil {
		log.Fatalf("failed to load environment config: %v", err)
	}

	command := "serve"
	args := flag.Args()
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	switch command {
	case "serve":
		runServe(env)
	case "migrate":
		handleMigrate(env, args)
	case "import":
		handleImport(env, args)
	case "enrich":
		handleEnrich(env, args)
	case "learn":
		handleLearn(env, args)
	case "threats":
		handleThreats(env, args)
	case "anchor":
		handleAnchor(env, args)
	case "rebuild-devices":
		handleRebuildDevices(env)
	case "version":
		log.Printf("shadowtrace %s", version.String())
	case "help":
		printUsage()
	default:
		log.Printf("unknown command: %s", command)
		printUsage()
		os.Exit(1)
	}
}

// app wires the stores, engine and workers from one environment config.
type app struct {
	db      *db.DB
	tuning  *config.Tuning
	scanner *detect.Scanner
	loop    *learn.Loop
	worker  *enrich.Worker
	batcher *importer.Batcher
}

func newApp(env *config.Env) (*app, error) {
	database, err := db.NewDB(env.DBPath)
	if err != nil {
		return nil, err
	}

	tuning, err := config.LoadTuning(env.TuningPath)
	if err != nil {
		database.Close()
		return nil, err
	}

	client := enrich.NewClient(env.LookupBaseURL, env.LookupAPIKey, nil)
	clock := timeutil.RealClock{}

	return &app{
		db:      database,
		tuning:  tuning,
		scanner: &detect.Scanner{DB: database, Tuning: tuning},
		loop:    &learn.Loop{DB: database, Tuning: tuning, Clock: clock},
		worker: &enrich.Worker{
			DB:         database,
			Client:     client,
			Clock:      clock,
			Interval:   env.EnrichInterval,
			BatchSize:  env.EnrichBatchSize,
			CallDelay:  env.EnrichCallDelay,
			MaxBackoff: env.EnrichMaxBackoff,
		},
		batcher: &importer.Batcher{
			DB:         database,
			PageSize:   env.ImportPageSize,
			AllowedDir: env.ImportDir,
			OnProgress: func(page int, processed, total int64) {
				log.Printf("import: page %d, %d/%d rows", page, processed, total)
			},
		},
	}, nil
}

func runServe(env *config.Env) {
	a, err := newApp(env)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer a.db.Close()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// enrichment worker drains the queue periodically while serving
	if env.LookupAPIKey != "" {
		a.worker.Start(ctx)
		defer a.worker.Stop()
	} else {
		log.Print("no lookup credentials configured; enrichment worker not started")
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes
		a.db.AttachAdminRoutes(mux)

		server := api.NewServer(a.db, a.scanner, a.loop, a.worker, a.batcher)
		mux.Handle("/", server.Router())

		httpServer := &http.Server{
			Addr:    env.Listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("shadowtrace %s listening on %s", version.String(), env.Listen)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

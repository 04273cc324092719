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

	"github.com/banshee-data/oncosim/internal/api"
	"github.com/banshee-data/oncosim/internal/config"
	"github.com/banshee-data/oncosim/internal/monitoring"
	"github.com/banshee-data/oncosim/internal/sim"
	"github.com/banshee-data/oncosim/internal/store"
	"github.com/banshee-data/oncosim/internal/units"
	"github.com/banshee-data/oncosim/internal/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Simulation config JSON file")
	dbPath      = flag.String("db", "oncosim.db", "SQLite results database (empty to disable)")
	outDir      = flag.String("out", "output", "Directory for plots and slice pages (empty to disable)")
	maxTime     = flag.Float64("max-time", 0, "Override max_time from the config (minutes, 0 keeps the config value)")
	seed        = flag.Int64("seed", -1, "Override the RNG seed (-1 keeps the config value)")
	workers     = flag.Int("workers", -1, "Override the worker count (0 = GOMAXPROCS, -1 keeps the config value)")
	serve       = flag.String("serve", "", "Serve the results API and SQL console on this address while running, e.g. :8080")
	verbose     = flag.Bool("verbose", false, "Log per-step diagnostics")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	monitoring.SetVerbose(*verbose)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var db *store.DB
	if *dbPath != "" {
		db, err = store.Open(*dbPath)
		if err != nil {
			log.Fatalf("failed to open results database: %v", err)
		}
		defer db.Close()
	}

	s, err := sim.New(sim.Options{Config: cfg, DB: db, OutputDir: *outDir})
	if err != nil {
		log.Fatalf("failed to build simulation: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	serverCtx, stopServer := context.WithCancel(ctx)
	if *serve != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runDebugServer(serverCtx, *serve, db)
		}()
	}

	sum, err := s.Run(ctx)
	stopServer()
	wg.Wait()

	log.Printf("finished t=%s steps=%d snapshots=%d cells=%d (live=%d apoptotic=%d necrotic=%d lymphocytes=%d) wall=%s",
		units.FormatMinutes(sum.Time), sum.Steps, sum.Snapshots, sum.Cells, sum.Live, sum.Apoptotic, sum.Necrotic, sum.Lymphocytes,
		sum.Wall.Round(time.Millisecond))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Printf("run interrupted")
			os.Exit(130)
		}
		log.Fatalf("run failed: %v", err)
	}
}

// loadConfig reads the config file and applies the command-line overrides.
func loadConfig() (*config.SimulationConfig, error) {
	cfg, err := config.LoadSimulationConfig(*configPath)
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, *maxTime, *seed, *workers)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration after overrides: %w", err)
	}
	return cfg, nil
}

func applyOverrides(cfg *config.SimulationConfig, maxTime float64, seed int64, workers int) {
	if maxTime > 0 {
		cfg.MaxTime = &maxTime
	}
	if seed >= 0 {
		s := uint64(seed)
		cfg.Seed = &s
	}
	if workers >= 0 {
		cfg.Workers = &workers
	}
}

func runDebugServer(ctx context.Context, addr string, db *store.DB) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if db != nil {
		if err := db.AttachAdminRoutes(mux); err != nil {
			log.Printf("debug routes unavailable: %v", err)
		}
		api.NewServer(db).Attach(mux)
	}
	server := &http.Server{Addr: addr, Handler: api.LoggingMiddleware(mux)}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("debug server failed: %v", err)
		}
	}()
	log.Printf("results API at http://%s/api/runs, metrics at /metrics, SQL console at /debug/tailsql/", addr)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("debug server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("debug server force close error: %v", err)
		}
	}
}

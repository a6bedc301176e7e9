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

	"github.com/vib3/photomesh/internal/api"
	"github.com/vib3/photomesh/internal/colmap"
	"github.com/vib3/photomesh/internal/config"
	"github.com/vib3/photomesh/internal/db"
	"github.com/vib3/photomesh/internal/monitoring"
	"github.com/vib3/photomesh/internal/pipeline"
	"github.com/vib3/photomesh/internal/progress"
	"github.com/vib3/photomesh/internal/timeutil"
	"github.com/vib3/photomesh/internal/version"
)

var (
	devMode    = flag.Bool("dev", false, "Run in dev mode (migrations read from disk)")
	listen     = flag.String("listen", ":8080", "Listen address")
	configFile = flag.String("config", "", "Path to a JSON or YAML panel config (defaults apply when empty)")
	dbFile     = flag.String("db", "photomesh.db", "SQLite database recording runs and conversions")
	colmapPath = flag.String("colmap", "", "COLMAP executable (overrides colmap_path from the config)")
	dryRun     = flag.Bool("dry-run", false, "Log COLMAP invocations without running them")
	verbose    = flag.Bool("v", false, "Log every COLMAP command line")
	secure     = flag.Bool("secure-cookies", false, "Mark session cookies Secure (serve behind TLS)")
)

// sessionPruneInterval is how often idle sessions are dropped.
const sessionPruneInterval = 10 * time.Minute

type logfLogger func(format string, v ...interface{})

func (f logfLogger) Debugf(format string, args ...interface{}) { f(format, args...) }

func printUsage() {
	fmt.Fprintf(os.Stderr, `photomesh - browser control panel for COLMAP photogrammetry

Usage:
  photomesh [flags]                serve the control panel
  photomesh [flags] migrate <cmd>  manage the database schema (see 'migrate help')
  photomesh version                print build information

Flags:
`)
	flag.PrintDefaults()
}

func loadConfig() (*config.PanelConfig, error) {
	cfg := config.DefaultPanelConfig()
	if *configFile != "" {
		loaded, err := config.LoadPanelConfig(*configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if *colmapPath != "" {
		path := *colmapPath
		cfg.ColmapPath = &path
	}
	return cfg, cfg.Validate()
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	db.DevMode = *devMode

	switch flag.Arg(0) {
	case "":
	case "migrate":
		if err := db.RunMigrateCommand(flag.Args()[1:], *dbFile, os.Stdout); err != nil {
			if errors.Is(err, db.ErrUsage) {
				os.Exit(2)
			}
			log.Fatalf("migrate: %v", err)
		}
		return
	case "version":
		info := version.Info()
		fmt.Printf("photomesh %s (%s, built %s)\n", info["version"], info["git_sha"], info["build_time"])
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", flag.Arg(0))
		printUsage()
		os.Exit(2)
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	extraArgs, err := cfg.ExtraArgs()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	broker := progress.NewBroker()
	defer broker.Close()
	lines := &api.LineForwarder{Broker: broker, Clock: timeutil.RealClock{}}

	runner := colmap.NewExecRunner(cfg.GetColmapPath(), extraArgs)
	runner.DryRun = *dryRun
	runner.OnLine = lines.OnLine
	if *verbose || *dryRun {
		runner.SetLogger(logfLogger(monitoring.Prefixed("[colmap] ")))
	}

	stageLog := pipeline.ReporterFunc(func(e progress.Event) {
		switch e.State {
		case progress.StateFinished, progress.StateFailed:
			log.Printf("run %s: %s %s in %dms", e.RunID, e.Stage, e.State, e.DurationMS)
		}
	})

	p := pipeline.New(runner, pipeline.MultiReporter{broker, api.StageRecorder{DB: database}, lines, stageLog}, pipeline.OptionsFromConfig(cfg))
	server := api.NewServer(cfg, p, broker, database)
	server.Sessions().SetSecureCookies(*secure)

	log.Printf("photomesh %s: colmap=%s mesher=%s models=%s", version.Version, cfg.GetColmapPath(), cfg.GetMesher(), cfg.GetModelsDir())

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// drop idle browser sessions
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(sessionPruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := server.Sessions().Prune(); n > 0 {
					log.Printf("pruned %d idle sessions", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		httpServer := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(server.ServeMux()),
		}

		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("listening on %s", *listen)

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// SSE streams never finish on their own
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := httpServer.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ironsheep/orthoscan/internal/config"
	"github.com/ironsheep/orthoscan/internal/detection"
	"github.com/ironsheep/orthoscan/internal/imaging"
	"github.com/ironsheep/orthoscan/internal/logger"
	"github.com/ironsheep/orthoscan/internal/metrics"
	"github.com/ironsheep/orthoscan/internal/oracle"
	"github.com/ironsheep/orthoscan/internal/overlay"
	"github.com/ironsheep/orthoscan/internal/pipeline"
	"github.com/ironsheep/orthoscan/internal/report"
	"github.com/ironsheep/orthoscan/internal/segment"
	"github.com/ironsheep/orthoscan/internal/server"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// healthTimeout bounds each model health check at startup.
const healthTimeout = 5 * time.Second

func main() {
	configPath := os.Getenv("ORTHOSCAN_CONFIG")

	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--version", "-v", "version":
			fmt.Printf("orthoscan %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return
		case "--help", "-h", "help":
			printHelp()
			return
		case "--config", "-c":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--config requires a path")
				os.Exit(2)
			}
			i++
			configPath = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown argument %q (see --help)\n", args[i])
			os.Exit(2)
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Logs go to stderr; stdout is for the MCP protocol.
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	log.Info("main", "starting orthoscan", map[string]interface{}{
		"version":   Version,
		"commit":    GitCommit,
		"transport": cfg.Transport,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("main", err, nil)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	m := metrics.New()

	var detector detection.Detector = detection.Unavailable{}
	if cfg.Detector.URL != "" {
		healthCtx, cancel := context.WithTimeout(ctx, healthTimeout)
		d, err := detection.Connect(healthCtx, cfg.Detector.URL, nil)
		cancel()
		if err != nil {
			log.Warning("main", "detector unavailable, detections will be empty", map[string]interface{}{
				"degraded": true,
				"url":      cfg.Detector.URL,
				"error":    err.Error(),
			})
		}
		detector = d
	}

	var tiers []segment.Segmenter
	if cfg.Dense.URL != "" {
		healthCtx, cancel := context.WithTimeout(ctx, healthTimeout)
		dense, err := segment.ConnectDense(healthCtx, cfg.Dense.URL, cfg.Dense.InputSize, nil)
		cancel()
		if err != nil {
			log.Warning("main", "dense segmenter unavailable, using heuristic masks", map[string]interface{}{
				"degraded": true,
				"url":      cfg.Dense.URL,
				"error":    err.Error(),
			})
		}
		tiers = append(tiers, dense)
	}
	tiers = append(tiers, segment.NewHeuristic(detector, cfg.Detector.MinConfidence, log))
	engine := segment.NewEngine(log, m, tiers...)

	var primary oracle.Analyzer
	if cfg.Oracle.APIKey != "" {
		primary = oracle.NewGemini(cfg.Oracle.APIKey, cfg.Oracle.Model, cfg.Oracle.Endpoint, &http.Client{Timeout: 60 * time.Second})
	} else {
		log.Warning("main", "no oracle API key, findings will be mocked", map[string]interface{}{"degraded": true})
	}
	analyzer := oracle.NewResilient(primary, oracle.NewFallback(cfg.Oracle.Seed), log, m)

	var store report.Store
	if cfg.Store.MongoURI != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		mongoStore, err := report.ConnectMongo(connectCtx, cfg.Store.MongoURI, cfg.Store.Database, cfg.Store.Collection)
		cancel()
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mongoStore.Close(closeCtx); err != nil {
				log.Error("main", err, map[string]interface{}{"stage": "close store"})
			}
		}()
		store = mongoStore
	} else {
		log.Info("main", "storing reports in memory", nil)
		store = report.NewMemoryStore()
	}

	bake := overlay.DefaultBakeOptions()
	bake.Highlight = imaging.ParseColorOr(cfg.Overlay.HighlightColor, bake.Highlight)
	bake.Stroke = imaging.ParseColorOr(cfg.Overlay.StrokeColor, bake.Stroke)
	bake.Expansion = cfg.Overlay.Expansion

	page := report.DefaultOptions()
	page.Stroke = bake.Stroke
	page.Expansion = cfg.Overlay.Expansion

	p := pipeline.New(pipeline.Deps{
		Analyzer:      analyzer,
		Detector:      detector,
		Engine:        engine,
		Store:         store,
		Logger:        log,
		Metrics:       m,
		MinConfidence: cfg.Detector.MinConfidence,
		Bake:          bake,
		Page:          page,
	})

	if cfg.Transport == config.TransportHTTP {
		return serveHTTP(ctx, cfg, p, log, m)
	}

	srv := server.New(p, log, server.Options{Version: Version})
	err := srv.Run(ctx, os.Stdin, os.Stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func serveHTTP(ctx context.Context, cfg *config.Config, p *pipeline.Orchestrator, log logger.Logger, m *metrics.Metrics) error {
	h := server.NewHTTP(p, log, m, cfg.HTTP.MaxUploadBytes)
	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      h.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("main", "listening", map[string]interface{}{"addr": cfg.HTTP.Addr})
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("main", "shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func printHelp() {
	fmt.Println("orthoscan - radiograph lesion analysis and report server")
	fmt.Println()
	fmt.Println("Usage: orthoscan [options]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config, -c PATH   Load settings from a YAML file")
	fmt.Println("  --version, -v       Print version information")
	fmt.Println("  --help, -h          Print this help message")
	fmt.Println()
	fmt.Println("Environment variables:")
	fmt.Println("  ORTHOSCAN_TRANSPORT=mcp|http        Request layer (default mcp)")
	fmt.Println("  ORTHOSCAN_HTTP_ADDR=:8000           Listen address for http")
	fmt.Println("  ORTHOSCAN_LOG_LEVEL=debug           Log level")
	fmt.Println("  ORTHOSCAN_DETECTOR_URL=...          Detection inference service")
	fmt.Println("  ORTHOSCAN_DENSE_URL=...             Dense segmentation service")
	fmt.Println("  GEMINI_API_KEY=...                  Classification model key")
	fmt.Println("  ORTHOSCAN_MONGO_URI=mongodb://...   Report store (memory if unset)")
	fmt.Println()
	fmt.Println("With the mcp transport the server speaks JSON-RPC over stdin/stdout.")
	fmt.Println("Configure it in your MCP client (e.g., Claude Desktop).")
}

package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zombor/grocery-tracker/internal/auth"
	"github.com/zombor/grocery-tracker/internal/entry"
	"github.com/zombor/grocery-tracker/internal/logging"
	"github.com/zombor/grocery-tracker/internal/metrics"
	"github.com/zombor/grocery-tracker/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("grocery-tracker")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		storeType      = fs.StringEnumLong("store", "Storage backend", "bolt", "sqlite")
		dbPath         = fs.StringLong("db", "grocery-tracker.db", "Database file path")
		authType       = fs.StringEnumLong("auth", "Token verifier", "jwt", "google")
		jwtSecret      = fs.StringLong("jwt-secret", "", "HS256 secret for --auth jwt")
		googleAudience = fs.StringLong("google-audience", "", "OAuth client ID expected in Google ID tokens, for --auth google")
		strictAmounts  = fs.BoolLong("strict-amounts", "Reject negative amounts and amounts that are not multiples of 0.25")
		metricsAddr    = fs.StringLong("metrics-addr", "", "Address for the Prometheus /metrics listener (disabled when empty)")
		logLevel       = fs.StringLong("log-level", "info", "Log level: debug, info, warn, error")
		scannerType    = fs.StringEnumLong("scanner", "Receipt scanner", "none", "gemini", "ollama")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl)")
		_              = fs.StringLong("config", "", "Config file (optional)")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("GROCERY_TRACKER"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	logging.SetupWithLevel(logging.ParseLevel(*logLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	slog.Info("Initializing database...", "store", *storeType, "path", *dbPath)
	var (
		db  entry.DB
		err error
	)
	switch *storeType {
	case "sqlite":
		db, err = entry.NewSQLiteDB(*dbPath)
	default:
		db, err = entry.NewBoltDB(*dbPath)
	}
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize token verifier
	var verifier auth.Verifier
	switch *authType {
	case "google":
		slog.Info("Verifying Google ID tokens", "audience", *googleAudience)
		verifier, err = auth.NewGoogleVerifier(ctx, *googleAudience)
		if err != nil {
			slog.Error("Failed to initialize Google verifier", "error", err)
			os.Exit(1)
		}
	default:
		if *jwtSecret == "" {
			slog.Error("JWT secret is required. Set --jwt-secret flag or GROCERY_TRACKER_JWT_SECRET environment variable")
			os.Exit(1)
		}
		verifier = auth.NewJWTVerifier(*jwtSecret)
	}

	// Initialize scanner based on type
	var scanner scanning.Scanner
	switch *scannerType {
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini scanner...", "model", *geminiModel)
		scanner, err = scanning.NewGemini(ctx, apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *ollamaURL, "model", *ollamaModel)
		scanner, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Info("Receipt scanning disabled")
	}
	if scanner != nil {
		defer scanner.Close()
	}

	// Initialize metrics
	var m *metrics.Metrics
	if *metricsAddr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.New(registry)

		mux := http.NewServeMux()
		mux.Handle("GET /metrics", metrics.Handler(registry))
		metricsServer := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			slog.Info("Metrics listener started", "address", *metricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server error", "error", err)
			}
		}()
		defer metricsServer.Close()
	}

	// Initialize service
	service := entry.NewService(db, scanner, entry.Validator{StrictAmounts: *strictAmounts})
	if *strictAmounts {
		slog.Info("Strict amount validation enabled")
	}

	// Initialize server
	server := entry.NewServer(service, verifier, m)
	addr := fmt.Sprintf(":%d", *port)
	httpServer := server.HTTPServer(addr)

	errc := make(chan error, 1)
	go func() {
		errc <- httpServer.ListenAndServe()
	}()
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))

	// Wait for interrupt signal
	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown error", "error", err)
	}
}

package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/guardly/dialograils/internal/audit"
	"github.com/guardly/dialograils/internal/chat"
	"github.com/guardly/dialograils/internal/config"
	"github.com/guardly/dialograils/internal/provider"
	"github.com/guardly/dialograils/internal/rail"
	"github.com/guardly/dialograils/internal/rules"
)

func main() {
	// Load environment variables
	godotenv.Load()

	// Initialize logger
	logger := log.New(os.Stdout, "[dialograils] ", log.LstdFlags|log.Lshortfile)

	// Load configuration
	cfg := config.Load()
	logger.Println("Configuration loaded")

	// Load the rule set; a broken rule file blocks startup.
	store, err := rules.NewStore(cfg.Rules.Path, logger)
	if err != nil {
		logger.Fatalf("Failed to load rules: %v", err)
	}

	// Create the LLM provider
	prov := provider.FromConfig(cfg.Engine)
	genOpts := provider.OptionsFromConfig(cfg.Engine)
	logger.Printf("Provider: %s (model %s)", prov.Name(), cfg.Engine.Model)

	// Register external actions and build the engine
	registry := rail.NewRegistry()
	if err := chat.RegisterBuiltins(registry, prov, genOpts); err != nil {
		logger.Fatalf("Failed to register actions: %v", err)
	}
	engine, err := rail.NewEngine(store, prov, registry, rail.Config{
		GenerateTimeout: cfg.Engine.Timeout,
		ActionTimeout:   cfg.Engine.ActionTimeout,
		GenerateOptions: genOpts,
	}, logger)
	if err != nil {
		logger.Fatalf("Failed to build engine: %v", err)
	}

	// Hot-reload the rule file on change
	if cfg.Rules.Path != "" && cfg.Rules.WatchChanges {
		if err := store.StartHotReload(); err != nil {
			logger.Printf("Rules hot-reload disabled: %v", err)
		}
		defer store.StopHotReload()
	}

	// Interaction audit log
	auditLogger, err := audit.NewLogger(cfg.Audit.Path)
	if err != nil {
		logger.Fatalf("Failed to open audit log: %v", err)
	}
	defer auditLogger.Close()

	svc := chat.NewService(engine, prov, auditLogger, cfg.History.MaxExchanges, logger)

	// Setup routes
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"dialograils"}`))
	})

	http.HandleFunc("/api/chat", chat.Handler(svc, logger))
	http.HandleFunc("/api/history", chat.HistoryHandler(svc))

	http.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		rs := store.Current()
		w.Header().Set("Content-Type", "application/json")
		status := fmt.Sprintf(`{
			"status": "ok",
			"provider": "%s",
			"rules_version": "%s"
		}`, prov.Name(), rs.Version)
		w.Write([]byte(status))
	})

	// Metrics endpoint (Prometheus)
	if cfg.Metrics.Enabled {
		http.Handle(cfg.Metrics.Endpoint, promhttp.Handler())
	}

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Println("=================================")
	logger.Println("Dialogue Rails Service Starting")
	logger.Println("=================================")
	logger.Printf("Server:   http://%s", addr)
	logger.Printf("Provider: %s", prov.Name())
	logger.Printf("Rules:    %s", rulesSource(cfg.Rules.Path))
	logger.Println("=================================")

	server := &http.Server{
		Addr:         addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	if err := server.ListenAndServe(); err != nil {
		logger.Fatalf("Server failed: %v", err)
	}
}

func rulesSource(path string) string {
	if path == "" {
		return "built-in"
	}
	return path
}

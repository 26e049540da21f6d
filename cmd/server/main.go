package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/liamcoop/ruleops/internal/config"
	"github.com/liamcoop/ruleops/internal/logger"
	"github.com/liamcoop/ruleops/migrations"
	"github.com/liamcoop/ruleops/rules"
)

// seedDefault selects the built-in seed rules.
const seedDefault = "default"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}

	if err := logger.Setup(context.Background(), logger.Options{
		Level:           cfg.LogLevel,
		ErrorSampleRate: cfg.ErrorSampleRate,
		OTELEnabled:     cfg.OTELEnabled,
		ServiceName:     cfg.OTELServiceName,
	}); err != nil {
		logger.Fatal("failed to set up logging", "error", err)
	}

	store, db, err := openStore(cfg)
	if err != nil {
		logger.Fatal("failed to open rule store", "store", cfg.Store, "error", err)
	}
	if db != nil {
		defer db.Close()
	}

	registry := newMetricsRegistry()
	cache := rules.NewInMemoryValidationCache(rules.CacheConfig{
		TTL:        cfg.ValidationCacheTTL,
		MaxEntries: rules.DefaultCacheConfig().MaxEntries,
	})

	engine, err := rules.NewEngine(store,
		rules.WithCostLimit(cfg.CostLimit),
		rules.WithValidationCache(cache),
		rules.WithMetrics(rules.NewMetrics(registry)),
	)
	if err != nil {
		logger.Fatal("failed to create rule engine", "error", err)
	}

	if err := seed(engine, cfg.SeedFile); err != nil {
		logger.Fatal("failed to seed rules", "file", cfg.SeedFile, "error", err)
	}

	snap := engine.Snapshot()
	logger.Info("rule engine ready", "store", cfg.Store, "activeRules", len(snap.Rules), "generation", snap.Generation)

	server := NewServer(engine, db, registry, cfg.RequestTimeout)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := logger.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "log exporter shutdown: %v\n", err)
	}

	logger.Info("server stopped")
}

// openStore returns the configured rule store. The database handle is nil
// for the memory store.
func openStore(cfg config.Config) (rules.RuleStore, *sql.DB, error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("using in-memory rule store, rules are lost on restart")
		return rules.NewInMemoryRuleStore(), nil, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.MigrateOnStart {
		if err := migrations.Up(db); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("database migrations applied")
	}

	return rules.NewPostgresRuleStore(db), db, nil
}

// seed creates the rules of the configured seed file that do not exist yet.
func seed(engine *rules.Engine, file string) error {
	if file == "" {
		return nil
	}

	var seedRules []*rules.Rule
	var err error
	if file == seedDefault {
		seedRules, err = rules.DefaultSeed()
	} else {
		seedRules, err = rules.LoadSeedFile(file)
	}
	if err != nil {
		return err
	}

	_, err = engine.Seed(seedRules, rules.SystemActor)
	return err
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"bizgraph/backend/internal/api"
	"bizgraph/backend/internal/candidates"
	"bizgraph/backend/internal/graph"
	"bizgraph/backend/internal/ledger"
	"bizgraph/backend/internal/merge"
	"bizgraph/backend/internal/ontology"
	"bizgraph/backend/internal/scoring"
	"bizgraph/backend/pkg/config"
	"bizgraph/backend/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting entity resolution API server...")

	ctx := context.Background()
	a, err := buildApp(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to initialize server", zap.Error(err))
	}
	defer a.close()

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: a.router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("port", cfg.Port))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

// app is the wired server. close releases the graph store and the ledger database.
type app struct {
	router *gin.Engine
	store  graph.Store
	db     *gorm.DB
}

func (a *app) close() {
	log := logger.Get()
	if err := a.store.Close(context.Background()); err != nil {
		log.Warn("Failed to close graph store", zap.Error(err))
	}
	if sqlDB, err := a.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Warn("Failed to close ledger database", zap.Error(err))
		}
	}
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logger.Get()

	registry, err := ontology.LoadFile(cfg.OntologyFile)
	if err != nil {
		return nil, err
	}
	log.Info("Ontology loaded",
		zap.Strings("labels", registry.Labels()),
		zap.Int("relationship_types", len(registry.RelationshipTypes())),
	)

	store, err := openGraph(ctx, cfg, registry)
	if err != nil {
		return nil, err
	}

	db, err := ledger.Open(cfg.LedgerDSN)
	if err != nil {
		_ = store.Close(ctx)
		return nil, err
	}
	if err := ledger.AutoMigrate(db); err != nil {
		_ = store.Close(ctx)
		return nil, err
	}

	engine := merge.NewEngine(store, registry, merge.EngineOptions{
		StrictRelationshipTypes: cfg.StrictRelationshipTypes,
	})
	service := merge.NewService(engine, ledger.NewRepo(db))
	generator := candidates.NewGenerator(store, registry,
		scoring.NewScorer(scoring.DefaultWeights, cfg.DefaultCountryCode),
		candidates.Options{Workers: cfg.MatchWorkers, DefaultLimit: cfg.CandidateLimit},
	)

	handler := api.NewHandler(service, generator, api.Defaults{
		MinConfidence: cfg.MinConfidence,
		Limit:         cfg.CandidateLimit,
		BlockSize:     cfg.BlockSize,
		CountryCode:   cfg.DefaultCountryCode,
	})
	router := api.NewRouter(handler, log, api.RouterOptions{
		AllowOrigins: cfg.CORSAllowOrigins,
		Production:   cfg.IsProduction(),
	})

	return &app{router: router, store: store, db: db}, nil
}

func openGraph(ctx context.Context, cfg *config.Config, registry *ontology.Static) (graph.Store, error) {
	if cfg.UsesMemoryGraph() {
		logger.Get().Warn("Using in-memory graph store; data is lost on exit")
		return graph.NewMemoryStore(), nil
	}

	driver, err := graph.NewDriver(ctx, graph.DriverConfig{
		URI:         cfg.Neo4jURI,
		User:        cfg.Neo4jUser,
		Password:    cfg.Neo4jPassword,
		MaxPoolSize: cfg.Neo4jMaxPoolSize,
		Timeout:     cfg.Neo4jTimeout,
	})
	if err != nil {
		return nil, err
	}
	store := graph.NewNeo4jStore(driver, cfg.Neo4jDatabase, cfg.MergeTxTimeout)
	if err := store.EnsureSchema(ctx, registry.Labels(), registry.RelationshipTypes()); err != nil {
		_ = store.Close(ctx)
		return nil, err
	}
	return store, nil
}

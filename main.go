package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-suggest/pkg/audit"
	"github.com/ekaya-inc/ekaya-suggest/pkg/auth"
	"github.com/ekaya-inc/ekaya-suggest/pkg/config"
	"github.com/ekaya-inc/ekaya-suggest/pkg/database"
	"github.com/ekaya-inc/ekaya-suggest/pkg/handlers"
	"github.com/ekaya-inc/ekaya-suggest/pkg/mcp"
	mcpauth "github.com/ekaya-inc/ekaya-suggest/pkg/mcp/auth"
	"github.com/ekaya-inc/ekaya-suggest/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-suggest/pkg/middleware"
	"github.com/ekaya-inc/ekaya-suggest/pkg/preview"
	"github.com/ekaya-inc/ekaya-suggest/pkg/repositories"
	"github.com/ekaya-inc/ekaya-suggest/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		// No logger yet.
		_, _ = os.Stderr.WriteString("Failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := newLogger(cfg.Env)
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", cfg.Database.User+"@"+cfg.Database.Host+"/"+cfg.Database.Database),
		zap.Bool("mcp_enabled", cfg.MCP.Enabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	if err := database.RunMigrations(sqlDB, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	_ = sqlDB.Close()

	jwksClient, err := auth.NewJWKSClient(ctx, &auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		logger.Fatal("Failed to create JWKS client", zap.Error(err))
	}
	defer jwksClient.Close()
	authService := auth.NewAuthService(jwksClient, logger)
	authMiddleware := auth.NewMiddleware(authService, logger)

	// Repositories
	suggestionRepo := repositories.NewSuggestionRepository()
	store := services.NewTargetStore(&services.TargetStoreDeps{
		EntityRepo:       repositories.NewEntityRepository(),
		RelationshipRepo: repositories.NewRelationshipRepository(),
		MemoryRepo:       repositories.NewMemoryRepository(),
		DocumentRepo:     repositories.NewDocumentRepository(),
		Logger:           logger,
	})

	// Services
	auditor := audit.NewDecisionAuditor(logger)
	txRunner := database.NewTxRunner()
	suggestionService := services.NewSuggestionService(&services.SuggestionServiceDeps{
		SuggestionRepo: suggestionRepo,
		Store:          store,
		Config:         cfg.Suggestions,
		Logger:         logger,
	})
	decisionService := services.NewDecisionService(&services.DecisionServiceDeps{
		SuggestionRepo: suggestionRepo,
		Store:          store,
		TxRunner:       txRunner,
		Auditor:        auditor,
		Logger:         logger,
	})
	previewService := services.NewPreviewService(&services.PreviewServiceDeps{
		SuggestionRepo: suggestionRepo,
		Store:          store,
		Options: preview.Options{
			ContextChars: cfg.Suggestions.PreviewContextChars,
			TailChars:    cfg.Suggestions.PreviewTailChars,
		},
		Logger: logger,
	})
	rollbackService := services.NewRollbackService(&services.RollbackServiceDeps{
		SuggestionRepo: suggestionRepo,
		Store:          store,
		TxRunner:       txRunner,
		Auditor:        auditor,
		PreviewLimit:   cfg.Suggestions.RollbackPreviewLimit,
		Logger:         logger,
	})

	mux := http.NewServeMux()

	handlers.NewHealthHandler(cfg, db, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	tenantMiddleware := handlers.TenantMiddleware(database.WithTenantContext(db, logger))
	handlers.NewSuggestionsHandler(suggestionService, decisionService, previewService, rollbackService, logger).
		RegisterRoutes(mux, authMiddleware, tenantMiddleware)

	if cfg.MCP.Enabled {
		recorder := mcp.NewToolCallRecorder(prometheus.DefaultRegisterer, logger)
		mcpServer := mcp.NewServer("ekaya-suggest", cfg.Version, logger, recorder)
		tools.RegisterHealthTool(mcpServer.MCP(), cfg.Version, db)
		tools.RegisterSuggestionTools(mcpServer.MCP(), &tools.SuggestionToolDeps{
			TenantContext:     services.NewTenantContextFunc(db),
			SuggestionService: suggestionService,
			Logger:            logger,
		})
		handlers.NewMCPHandler(mcpServer, logger).RegisterRoutes(mux, mcpauth.NewMiddleware(authService, logger))
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("Starting ekaya-suggest",
		zap.String("addr", srv.Addr),
		zap.String("version", cfg.Version))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Server failed", zap.Error(err))
	}
	logger.Info("Server stopped")
}

func newLogger(env string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if env == "local" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// Package main provides the entry point for the Pagemill API server
//
// @title Pagemill API
// @version 1.0.0
// @description Multi-tenant document ingestion and semantic search service
// @host localhost:8080
// @BasePath /
// @schemes http https
//
// @securityDefinitions.apikey APIKeyAuth
// @in header
// @name X-API-Key
// @description Tenant API key
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/pagemill/pagemill/domain/documents"
	"github.com/pagemill/pagemill/domain/health"
	"github.com/pagemill/pagemill/domain/pipeline"
	"github.com/pagemill/pagemill/domain/search"
	"github.com/pagemill/pagemill/domain/tenants"
	"github.com/pagemill/pagemill/internal/config"
	"github.com/pagemill/pagemill/internal/database"
	"github.com/pagemill/pagemill/internal/jobs"
	"github.com/pagemill/pagemill/internal/migrate"
	"github.com/pagemill/pagemill/internal/queue"
	"github.com/pagemill/pagemill/internal/ratelimit"
	"github.com/pagemill/pagemill/internal/redisclient"
	"github.com/pagemill/pagemill/internal/server"
	"github.com/pagemill/pagemill/internal/storage"
	"github.com/pagemill/pagemill/internal/vectorindex"
	"github.com/pagemill/pagemill/pkg/auth"
	"github.com/pagemill/pagemill/pkg/embeddings"
	"github.com/pagemill/pagemill/pkg/extract"
	"github.com/pagemill/pagemill/pkg/logger"
)

func main() {
	// Load .env files if present (for local development)
	// Order matters: .env.local overrides .env
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	fx.New(
		// Logging
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure modules
		logger.Module,
		config.Module,
		database.Module,
		migrate.Module,
		redisclient.Module,
		server.Module,
		storage.Module,
		vectorindex.Module,
		queue.Module,
		ratelimit.Module,

		// Auth module
		auth.Module,

		// Embeddings and extraction
		embeddings.Module,
		extract.Module,

		// Durable job store
		jobs.Module,

		// Domain modules
		health.Module,
		tenants.Module,
		documents.Module,
		search.Module,

		// Background pipeline workers and deletion reconciler
		pipeline.Module,
	).Run()
}

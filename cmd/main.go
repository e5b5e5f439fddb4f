package main

import (
	"context"
	"fmt"
	"os"

	"github.com/csyeqing/rag-platform/internal/db"
	"github.com/csyeqing/rag-platform/internal/handlers"
	"github.com/csyeqing/rag-platform/internal/middleware"
	"github.com/csyeqing/rag-platform/internal/observability"
	"github.com/csyeqing/rag-platform/internal/pkg/logger"
	"github.com/csyeqing/rag-platform/internal/repos"
	"github.com/csyeqing/rag-platform/internal/server"
	"github.com/csyeqing/rag-platform/internal/services"
	"github.com/csyeqing/rag-platform/internal/services/providers"
	"github.com/csyeqing/rag-platform/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	// Tracing
	shutdownOtel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "rag-platform",
		Environment: utils.GetEnv("ENVIRONMENT", "development", log),
		Version:     utils.GetEnv("SERVICE_VERSION", "dev", log),
	})
	if shutdownOtel != nil {
		defer func() {
			if err := shutdownOtel(context.Background()); err != nil {
				log.Warn("otel shutdown failed", "error", err)
			}
		}()
	}

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos from main...")
	userRepo := repos.NewUserRepo(thePG, log)
	providerConfigRepo := repos.NewProviderConfigRepo(thePG, log)
	libraryRepo := repos.NewLibraryRepo(thePG, log)
	knowledgeFileRepo := repos.NewKnowledgeFileRepo(thePG, log)
	chunkRepo := repos.NewChunkRepo(thePG, log)
	entityRepo := repos.NewKnowledgeEntityRepo(thePG, log)
	relationRepo := repos.NewKnowledgeRelationRepo(thePG, log)
	sessionRepo := repos.NewChatSessionRepo(thePG, log)
	messageRepo := repos.NewChatMessageRepo(thePG, log)
	taskRepo := repos.NewIngestionTaskRepo(thePG, log)
	auditRepo := repos.NewAuditLogRepo(thePG, log)
	profileRepo := repos.NewRetrievalProfileRepo(thePG, log)

	// Services
	log.Info("Setting up services from main...")
	registry := providers.NewRegistry(log)
	authService := services.NewAuthService(userRepo, log)
	auditService := services.NewAuditService(auditRepo, log)
	providerService := services.NewProviderService(providerConfigRepo, registry, log)
	embeddingService := services.NewEmbeddingService(registry, log)
	graphService := services.NewGraphService(thePG, chunkRepo, entityRepo, relationRepo, log)
	profileService := services.NewRetrievalProfileService(profileRepo, log)
	retrievalService := services.NewRetrievalService(chunkRepo, knowledgeFileRepo, entityRepo, relationRepo, embeddingService, graphService, log)
	kbService := services.NewKBService(libraryRepo, knowledgeFileRepo, chunkRepo, entityRepo, relationRepo, taskRepo, embeddingService, graphService, log)
	chatService := services.NewChatService(sessionRepo, messageRepo, libraryRepo, providerService, profileService, retrievalService, registry, log)

	// Seed data
	if err := authService.EnsureDefaultAdmin(ctx); err != nil {
		log.Error("Failed to ensure default admin", "error", err)
		os.Exit(1)
	}
	if err := profileService.EnsureDefaultProfiles(ctx); err != nil {
		log.Error("Failed to seed retrieval profiles", "error", err)
		os.Exit(1)
	}

	// Handlers
	log.Info("Setting up handlers from main...")
	authHandler := handlers.NewAuthHandler(authService, auditService)
	userHandler := handlers.NewUserHandler(authService, auditService)
	providerHandler := handlers.NewProviderHandler(providerService)
	profileHandler := handlers.NewProfileHandler(profileService, auditService)
	kbHandler := handlers.NewKBHandler(kbService, auditService)
	chatHandler := handlers.NewChatHandler(chatService, auditService, log)

	// Middleware
	authMiddleware := middleware.NewAuthMiddleware(log, authService)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		Log:             log,
		AuthMiddleware:  authMiddleware,
		AuthHandler:     authHandler,
		UserHandler:     userHandler,
		ProviderHandler: providerHandler,
		ProfileHandler:  profileHandler,
		KBHandler:       kbHandler,
		ChatHandler:     chatHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	log.Info("Server listening", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Server failed", "error", err)
	}
}

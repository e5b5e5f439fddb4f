package server

import (
	"encoding/json"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/csyeqing/rag-platform/internal/handlers"
	"github.com/csyeqing/rag-platform/internal/middleware"
	"github.com/csyeqing/rag-platform/internal/pkg/logger"
	"github.com/csyeqing/rag-platform/internal/utils"
)

type RouterConfig struct {
	Log             *logger.Logger
	AuthMiddleware  *middleware.AuthMiddleware
	AuthHandler     *handlers.AuthHandler
	UserHandler     *handlers.UserHandler
	ProviderHandler *handlers.ProviderHandler
	ProfileHandler  *handlers.ProfileHandler
	KBHandler       *handlers.KBHandler
	ChatHandler     *handlers.ChatHandler
}

// corsOrigins reads CORS_ORIGINS as either a JSON array or a comma list.
func corsOrigins(log *logger.Logger) []string {
	raw := strings.TrimSpace(utils.GetEnv("CORS_ORIGINS", "", log))
	if raw == "" {
		return []string{"http://localhost:5173"}
	}
	if strings.HasPrefix(raw, "[") {
		var origins []string
		if err := json.Unmarshal([]byte(raw), &origins); err == nil && len(origins) > 0 {
			return origins
		}
		log.Warn("CORS_ORIGINS looks like JSON but failed to parse, falling back to comma split")
	}
	var origins []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			origins = append(origins, part)
		}
	}
	if len(origins) == 0 {
		return []string{"http://localhost:5173"}
	}
	return origins
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(middleware.RequestID())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins(cfg.Log),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))
	router.Use(otelgin.Middleware("rag-platform"))

	// Public
	router.GET("/health", handlers.HealthCheck)
	api := router.Group("/api")
	api.POST("/auth/login", cfg.AuthHandler.Login)

	// Protected
	protected := api.Group("/")
	protected.Use(cfg.AuthMiddleware.RequireAuth())

	protected.GET("/users/me", cfg.AuthHandler.Me)
	protected.POST("/models/validate", cfg.ProviderHandler.ValidateModel)

	admin := protected.Group("/admin")
	admin.Use(cfg.AuthMiddleware.RequireAdmin())
	admin.GET("/users", cfg.UserHandler.List)
	admin.POST("/users", cfg.UserHandler.Create)
	admin.PUT("/users/:id", cfg.UserHandler.Update)

	protected.GET("/settings/retrieval-profiles", cfg.ProfileHandler.List)
	settingsAdmin := protected.Group("/settings")
	settingsAdmin.Use(cfg.AuthMiddleware.RequireAdmin())
	settingsAdmin.POST("/retrieval-profiles", cfg.ProfileHandler.Create)
	settingsAdmin.PUT("/retrieval-profiles/:id", cfg.ProfileHandler.Update)
	settingsAdmin.DELETE("/retrieval-profiles/:id", cfg.ProfileHandler.Delete)

	protected.POST("/providers", cfg.ProviderHandler.Create)
	protected.GET("/providers", cfg.ProviderHandler.List)
	protected.GET("/providers/:id", cfg.ProviderHandler.Get)
	protected.PUT("/providers/:id", cfg.ProviderHandler.Update)
	protected.DELETE("/providers/:id", cfg.ProviderHandler.Delete)

	protected.POST("/chat/sessions", cfg.ChatHandler.CreateSession)
	protected.GET("/chat/sessions", cfg.ChatHandler.ListSessions)
	protected.PATCH("/chat/sessions/:id", cfg.ChatHandler.UpdateSession)
	protected.DELETE("/chat/sessions/:id", cfg.ChatHandler.DeleteSession)
	protected.GET("/chat/sessions/:id/messages", cfg.ChatHandler.ListMessages)
	protected.POST("/chat/sessions/:id/messages", cfg.ChatHandler.CreateMessage)

	protected.POST("/kb/libraries", cfg.KBHandler.CreateLibrary)
	protected.GET("/kb/libraries", cfg.KBHandler.ListLibraries)
	protected.GET("/kb/libraries/:id", cfg.KBHandler.GetLibrary)
	protected.PUT("/kb/libraries/:id", cfg.KBHandler.UpdateLibrary)
	protected.DELETE("/kb/libraries/:id", cfg.KBHandler.DeleteLibrary)
	protected.GET("/kb/libraries/:id/files", cfg.KBHandler.ListFiles)
	protected.GET("/kb/libraries/:id/graph", cfg.KBHandler.GetGraph)
	protected.POST("/kb/libraries/:id/graph/rebuild", cfg.KBHandler.RebuildGraph)
	protected.POST("/kb/files/upload", cfg.KBHandler.UploadFile)
	protected.DELETE("/kb/files/:id", cfg.KBHandler.DeleteFile)
	protected.POST("/kb/files/sync-directory", cfg.KBHandler.SyncDirectory)
	protected.POST("/kb/index/rebuild", cfg.KBHandler.RebuildIndex)
	protected.GET("/kb/tasks/:id", cfg.KBHandler.GetTask)

	return router
}

package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/odstat/internal/api/handler"
	"github.com/timmy/odstat/internal/api/middleware"
	"github.com/timmy/odstat/internal/logger"
)

// RouterConfig holds what the router needs besides handlers.
type RouterConfig struct {
	Mode string
	CORS middleware.CORSConfig
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	importer handler.Importer,
	db handler.Pinger,
	log *logger.Logger,
	cfg RouterConfig,
) *gin.Engine {
	// Set Gin mode
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(cfg.CORS))

	// Create handlers
	healthHandler := handler.NewHealthHandler(db)
	importHandler := handler.NewImportHandler(importer, log)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		selftest := v1.Group("/selftest")
		selftest.POST("/import", importHandler.StartImport)
		selftest.GET("/import/:id/progress", importHandler.GetProgress)
	}

	return r
}

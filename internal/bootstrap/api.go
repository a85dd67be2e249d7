package bootstrap

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"mailsweep/adapter/in/http"
	"mailsweep/adapter/in/worker"
	"mailsweep/config"
	"mailsweep/infra/middleware"
	"mailsweep/pkg/logger"
)

// NewAPI builds the HTTP server. The worker pool is shared with the worker
// runtime so detect and bulk unsubscribe requests can be queued instead of
// running inline.
func NewAPI(cfg *config.Config, deps *Dependencies, pool *worker.Pool) (*fiber.App, error) {
	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             10 * 1024 * 1024,
		ServerHeader:          "",
		DisableDefaultDate:    true,
	})

	middleware.InitTokenBlacklist(deps.Redis)

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.PreventPathTraversal())
	app.Use(middleware.RequestLogger())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	// CORS. Credentials require explicit origins, never "*".
	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := true
	if allowOrigins == "" || allowOrigins == "*" {
		if cfg.IsProduction() {
			allowOrigins = ""
			allowCredentials = false
		} else {
			allowOrigins = "http://localhost:3000,http://localhost:5173"
		}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID,Retry-After",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))

	// Health checks (no auth)
	healthHandler := http.NewHealthHandler(deps.DB, deps.Redis)
	healthHandler.Register(app)

	// API routes (auth + rate limiting)
	api := app.Group("/api/v1")
	api.Use(middleware.JWTAuth(cfg.JWTSecret))

	rateLimiter := middleware.NewRateLimiter(float64(cfg.OutboundRatePerSec)*4, 20)
	api.Use(rateLimiter.Handler())

	subscriptionHandler := http.NewSubscriptionHandler(
		deps.DetectionService,
		deps.SubscriptionService,
		pool,
	)
	subscriptionHandler.RegisterRoutes(api)

	whitelistHandler := http.NewWhitelistHandler(deps.WhitelistService)
	whitelistHandler.RegisterRoutes(api)

	logger.Info("API server initialized")
	return app, nil
}

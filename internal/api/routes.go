// routes.go - Route registration helpers
package api

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Root    string
	Version string
}

// Handlers holds all handler instances
type Handlers struct {
	Health HealthHandler
	Runs   RunsHandler
	Serial SerialTailHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health: NewHealthHandler(deps.Version, deps.Root),
		Runs:   NewRunsHandler(deps.Root),
		Serial: NewSerialTailHandler(deps.Root),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/api/health", handlers.Health.HandleHealth)

	runs := e.Group("/api/runs")
	runs.GET("", handlers.Runs.HandleListRuns)
	runs.GET("/:id/summary", handlers.Runs.HandleGetSummary)
	runs.GET("/:id/mem", handlers.Runs.HandleGetMem)
	runs.GET("/:id/mem/msgpack", handlers.Runs.HandleGetMemMsgpack)
	runs.GET("/:id/derived", handlers.Runs.HandleGetDerived)
	runs.GET("/:id/serial/ws", handlers.Serial.HandleSerialTail)

	e.GET("/api/compare", handlers.Runs.HandleCompare)
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo) {
	e.HTTPErrorHandler = ErrorHandler
	e.Use(middleware.Recover())
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[API] ${time_rfc3339} ${method} ${uri} ${status} ${latency_human}\n",
	}))
}

// NewServer builds a configured echo instance serving deps.Root.
func NewServer(deps *Dependencies) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	SetupMiddleware(e)
	RegisterRoutes(e, NewHandlers(deps))
	return e
}

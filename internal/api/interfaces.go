// interfaces.go - Handler interface definitions
package api

import "github.com/labstack/echo/v4"

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// RunsHandler serves run artifacts and analyses derived from them
type RunsHandler interface {
	HandleListRuns(c echo.Context) error
	HandleGetSummary(c echo.Context) error
	HandleGetMem(c echo.Context) error
	HandleGetMemMsgpack(c echo.Context) error
	HandleGetDerived(c echo.Context) error
	HandleCompare(c echo.Context) error
}

// SerialTailHandler streams a run's serial log over a websocket
type SerialTailHandler interface {
	HandleSerialTail(c echo.Context) error
}

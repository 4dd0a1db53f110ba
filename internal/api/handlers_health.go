package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/esp32-tools/memharness/internal/storage"
)

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Root    string `json:"root"`
	Runs    int    `json:"runs"`
	Uptime  string `json:"uptime"`
}

// HealthHandlerImpl reports server status and whether the artifacts root
// is readable.
type HealthHandlerImpl struct {
	version string
	root    string
	started time.Time
}

func NewHealthHandler(version, root string) HealthHandler {
	return &HealthHandlerImpl{
		version: version,
		root:    root,
		started: time.Now(),
	}
}

// HandleHealth answers "ok" with the run count, or "degraded" when the
// artifacts root cannot be listed.
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	resp := healthResponse{
		Status:  "ok",
		Version: h.version,
		Root:    h.root,
		Uptime:  time.Since(h.started).Truncate(time.Second).String(),
	}
	runs, err := storage.ListRuns(h.root, 0)
	if err != nil {
		resp.Status = "degraded"
	}
	resp.Runs = len(runs)
	return c.JSON(http.StatusOK, resp)
}

// handlers_runs.go - Run artifact handlers
package api

import (
	"bytes"
	"errors"
	"io/fs"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/esp32-tools/memharness/internal/metrics"
	"github.com/esp32-tools/memharness/internal/models"
	"github.com/esp32-tools/memharness/internal/report"
	"github.com/esp32-tools/memharness/internal/storage"
)

const defaultRunLimit = 50

// RunsHandlerImpl implements RunsHandler over an artifacts root
type RunsHandlerImpl struct {
	root string
}

func NewRunsHandler(root string) RunsHandler {
	return &RunsHandlerImpl{root: root}
}

type runsResponse struct {
	Runs []storage.RunEntry `json:"runs"`
}

type memResponse struct {
	Rows  []models.MemRow `json:"rows"`
	Count int             `json:"count"`
}

// HandleListRuns lists run directories, newest first
func (h *RunsHandlerImpl) HandleListRuns(c echo.Context) error {
	limit := defaultRunLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return NewValidationError("limit")
		}
		limit = n
	}

	runs, err := storage.ListRuns(h.root, limit)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return c.JSON(http.StatusOK, runsResponse{Runs: []storage.RunEntry{}})
		}
		return NewInternalError("failed to list runs", err)
	}
	if runs == nil {
		runs = []storage.RunEntry{}
	}
	return c.JSON(http.StatusOK, runsResponse{Runs: runs})
}

func (h *RunsHandlerImpl) resolve(id string) (string, error) {
	dir, err := storage.ResolveRun(h.root, id)
	if err != nil {
		return "", runError(id, err)
	}
	return dir, nil
}

// HandleGetSummary returns a run's summary.json
func (h *RunsHandlerImpl) HandleGetSummary(c echo.Context) error {
	id := c.Param("id")
	dir, err := h.resolve(id)
	if err != nil {
		return err
	}

	sum, err := report.ReadSummary(storage.ArtifactsFor(dir).SummaryJSON)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewNotFoundError("summary", id)
		}
		return NewInternalError("failed to read summary", err)
	}
	return c.JSON(http.StatusOK, sum)
}

func (h *RunsHandlerImpl) memRows(id string) ([]models.MemRow, error) {
	dir, err := h.resolve(id)
	if err != nil {
		return nil, err
	}
	rows, err := storage.ReadJSONL[models.MemRow](storage.ArtifactsFor(dir).Mem)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, NewInternalError("failed to read mem journal", err)
	}
	if rows == nil {
		rows = []models.MemRow{}
	}
	return rows, nil
}

// HandleGetMem returns every mem snapshot of a run as JSON
func (h *RunsHandlerImpl) HandleGetMem(c echo.Context) error {
	rows, err := h.memRows(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, memResponse{Rows: rows, Count: len(rows)})
}

// HandleGetMemMsgpack returns the same payload as HandleGetMem in MessagePack
func (h *RunsHandlerImpl) HandleGetMemMsgpack(c echo.Context) error {
	rows, err := h.memRows(c.Param("id"))
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(memResponse{Rows: rows, Count: len(rows)}); err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", buf.Bytes())
}

// HandleGetDerived re-derives metrics from a run's journals
func (h *RunsHandlerImpl) HandleGetDerived(c echo.Context) error {
	dir, err := h.resolve(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, metrics.Derive(storage.ArtifactsFor(dir)))
}

// HandleCompare diffs the mem journals of runs a and b
func (h *RunsHandlerImpl) HandleCompare(c echo.Context) error {
	a, b := c.QueryParam("a"), c.QueryParam("b")
	if a == "" {
		return NewValidationError("a")
	}
	if b == "" {
		return NewValidationError("b")
	}
	dirA, err := h.resolve(a)
	if err != nil {
		return err
	}
	dirB, err := h.resolve(b)
	if err != nil {
		return err
	}

	cmp, err := metrics.Compare(dirA, dirB)
	if err != nil {
		if errors.Is(err, metrics.ErrNoRows) {
			return NewBadRequestError("nothing to compare", err)
		}
		return NewInternalError("failed to compare runs", err)
	}
	cmp.RunA, cmp.RunB = a, b
	return c.JSON(http.StatusOK, cmp)
}

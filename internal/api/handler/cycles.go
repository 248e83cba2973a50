package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/slotwatch/slotwatch/internal/api/middleware"
	"github.com/slotwatch/slotwatch/internal/api/models"
	"github.com/slotwatch/slotwatch/internal/api/response"
	"github.com/slotwatch/slotwatch/internal/poller"
	"github.com/slotwatch/slotwatch/internal/provider/resilience"
)

const (
	defaultCycleLimit = 20
	maxCycleLimit     = 100
)

// CycleRunner runs and reports poll cycles.
type CycleRunner interface {
	RunCycle(ctx context.Context) (*poller.CycleResult, error)
	Recent(ctx context.Context, limit int) ([]*poller.CycleResult, error)
	LastCycle() *poller.CycleResult
}

// CycleHandler handles /v1/cycles.
type CycleHandler struct {
	runner CycleRunner
	logger zerolog.Logger
}

// NewCycleHandler creates a new CycleHandler.
func NewCycleHandler(runner CycleRunner, logger zerolog.Logger) *CycleHandler {
	return &CycleHandler{runner: runner, logger: logger}
}

// List handles GET /v1/cycles?limit=n.
func (h *CycleHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultCycleLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxCycleLimit {
			response.BadRequest(w, r, "invalid query parameter", []models.FieldError{{
				Field:   "limit",
				Message: "must be an integer between 1 and 100",
				Code:    "out_of_range",
			}})
			return
		}
		limit = n
	}

	results, err := h.runner.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Str("request_id", middleware.GetRequestID(r.Context())).Msg("failed to load cycle history")
		response.InternalError(w, r, "failed to load cycle history")
		return
	}

	items := make([]models.Cycle, 0, len(results))
	for _, res := range results {
		items = append(items, models.NewCycle(res))
	}
	response.JSON(w, r, http.StatusOK, models.CycleList{Items: items, Limit: limit})
}

// Trigger handles POST /v1/cycles. The cycle runs synchronously. Failures
// other than contention or an unreachable scheduler, a failed send included,
// are reported as 500 problems naming the cycle.
func (h *CycleHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With().
		Str("request_id", middleware.GetRequestID(r.Context())).
		Str("subject", middleware.GetSubject(r.Context())).
		Logger()

	result, err := h.runner.RunCycle(r.Context())
	switch {
	case err == nil:
		response.JSON(w, r, http.StatusOK, models.NewCycle(result))
	case errors.Is(err, poller.ErrCycleInProgress):
		response.Conflict(w, r, "a poll cycle is already running")
	case resilience.IsConnectionError(err):
		logger.Warn().Err(err).Msg("triggered cycle could not reach scheduler")
		response.BadGateway(w, r, "scheduler unreachable after retries")
	default:
		logger.Error().Err(err).Msg("triggered cycle failed")
		detail := "poll cycle failed"
		if result != nil {
			detail = "poll cycle " + result.ID + " failed"
		}
		response.InternalError(w, r, detail)
	}
}

// Package handler provides HTTP handlers for the worker API.
package handler

import (
	"net/http"
	"time"

	"github.com/slotwatch/slotwatch/internal/api/models"
	"github.com/slotwatch/slotwatch/internal/api/response"
	"github.com/slotwatch/slotwatch/internal/poller"
	"github.com/slotwatch/slotwatch/internal/provider/resilience"
)

// ProviderHealthSource reports upstream health.
type ProviderHealthSource interface {
	All() []*resilience.ProviderHealth
}

// LastCycleSource reports the most recent cycle.
type LastCycleSource interface {
	LastCycle() *poller.CycleResult
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	providers ProviderHealthSource
	cycles    LastCycleSource
	now       func() time.Time
}

// NewOpsHandler creates a new OpsHandler. providers and cycles may be nil.
func NewOpsHandler(version, buildTime string, providers ProviderHealthSource, cycles LastCycleSource) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		providers: providers,
		cycles:    cycles,
		now:       time.Now,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.now()),
		Details: map[string]string{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	})
}

// SystemStatus handles GET /v1/ops/status. The overall status is the worst
// provider status; a failed last cycle degrades an otherwise healthy worker.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Status:    models.HealthStatusOK,
		Time:      models.Timestamp(h.now()),
		Providers: []models.ProviderStatus{},
	}

	if h.providers != nil {
		for _, p := range h.providers.All() {
			ps := providerStatus(p)
			status.Providers = append(status.Providers, ps)
			status.Status = worst(status.Status, ps.Status)
		}
	}

	if h.cycles != nil {
		if last := h.cycles.LastCycle(); last != nil {
			c := models.NewCycle(last)
			status.LastCycle = &c
			if last.Outcome == poller.OutcomeFailed {
				status.Status = worst(status.Status, models.HealthStatusDegraded)
			}
		}
	}

	response.JSON(w, r, http.StatusOK, status)
}

func providerStatus(p *resilience.ProviderHealth) models.ProviderStatus {
	ps := models.ProviderStatus{
		Provider:      p.Name,
		Status:        models.HealthStatusOK,
		CircuitState:  p.CircuitState.String(),
		LastSuccessAt: models.TimestampPtr(p.LastSuccessAt),
		LastFailureAt: models.TimestampPtr(p.LastFailureAt),
	}
	switch {
	case p.IsUnhealthy():
		ps.Status = models.HealthStatusFail
	case p.IsDegraded():
		ps.Status = models.HealthStatusDegraded
	}
	if p.LastError != "" {
		msg := p.LastError
		ps.Message = &msg
	}
	return ps
}

var statusRank = map[models.HealthStatus]int{
	models.HealthStatusOK:       0,
	models.HealthStatusDegraded: 1,
	models.HealthStatusFail:     2,
}

func worst(a, b models.HealthStatus) models.HealthStatus {
	if statusRank[b] > statusRank[a] {
		return b
	}
	return a
}

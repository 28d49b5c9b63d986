package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"deployflow/internal/fleet"
	"deployflow/internal/metrics"
	"deployflow/internal/models"
)

func (a *API) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EnrollmentToken string `json:"enrollment_token"`
		Hostname        string `json:"hostname"`
		OSType          string `json:"os_type"`
		OSVersion       string `json:"os_version"`
		HardwareSummary string `json:"hardware_summary"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	req.Hostname = strings.TrimSpace(req.Hostname)
	if req.OSType != "" && !models.ValidOSType(req.OSType) {
		respondError(w, http.StatusBadRequest, fmt.Errorf("unsupported os_type %q", req.OSType))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	result, err := a.fleet.Register(ctx, fleet.RegisterRequest{
		EnrollmentToken: req.EnrollmentToken,
		Hostname:        req.Hostname,
		OSType:          req.OSType,
		OSVersion:       req.OSVersion,
		HardwareSummary: req.HardwareSummary,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	metrics.DevicesEnrolled.Inc()
	a.publishJSON(devicesEnrolledTopic, map[string]any{
		"device_id": result.DeviceID,
		"hostname":  req.Hostname,
	})
	respondJSON(w, http.StatusOK, result)
}

func (a *API) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID        int64  `json:"device_id"`
		Status          string `json:"status"`
		OSVersion       string `json:"os_version"`
		HardwareSummary string `json:"hardware_summary"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.DeviceID <= 0 {
		respondError(w, http.StatusBadRequest, errors.New("device_id is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	result, err := a.fleet.Heartbeat(ctx, fleet.HeartbeatRequest{
		DeviceID:        req.DeviceID,
		Status:          req.Status,
		OSVersion:       req.OSVersion,
		HardwareSummary: req.HardwareSummary,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	metrics.Heartbeats.Inc()
	respondJSON(w, http.StatusOK, result)
}

func (a *API) handleActionResult(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Status      string     `json:"status"`
		ExitCode    *int       `json:"exit_code"`
		Logs        *string    `json:"logs"`
		CompletedAt *time.Time `json:"completed_at"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.fleet.ReportResult(ctx, id, fleet.ResultRequest{
		Status:      req.Status,
		ExitCode:    req.ExitCode,
		Logs:        req.Logs,
		CompletedAt: req.CompletedAt,
	}); err != nil {
		respondServiceError(w, err)
		return
	}

	metrics.ActionsCompleted.WithLabelValues(req.Status).Inc()
	a.publishJSON(actionsCompletedTopic, map[string]any{
		"action_id": id,
		"status":    req.Status,
	})
	respondJSON(w, http.StatusOK, map[string]any{"action_id": id, "status": req.Status})
}

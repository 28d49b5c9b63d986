package fleet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"deployflow/internal/models"
)

// HeartbeatRequest carries an agent check-in.
type HeartbeatRequest struct {
	DeviceID        int64
	Status          string
	OSVersion       string
	HardwareSummary string
}

// ActionPayload is one unit of work handed to an agent.
type ActionPayload struct {
	ID      int64   `json:"id"`
	Type    string  `json:"type"`
	Payload *string `json:"payload"`
}

// HeartbeatResult is the heartbeat response body.
type HeartbeatResult struct {
	Actions []ActionPayload `json:"actions"`
}

// Heartbeat refreshes the device's liveness metadata and atomically
// flips its pending actions to running, returning exactly the actions
// this call picked up. Pickup is at-most-once: each candidate row is
// updated with a status guard, and only rows the guard matched are
// included, so two racing heartbeats cannot both deliver the same
// action. If the response is lost in transit the actions stay running;
// see Options.RequeueRunningAfter for the opt-in re-delivery path.
func (s *Service) Heartbeat(ctx context.Context, req HeartbeatRequest) (HeartbeatResult, error) {
	result := HeartbeatResult{Actions: []ActionPayload{}}

	err := s.transaction(ctx, func(tx *gorm.DB) error {
		var device models.Device
		err := tx.First(&device, "id = ? AND is_deleted = ?", req.DeviceID, false).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return notFound("device", req.DeviceID)
		case err != nil:
			return err
		}

		now := s.now().UTC()
		updates := map[string]any{"last_check_in": now}
		if req.Status != "" {
			updates["status"] = req.Status
		}
		if req.OSVersion != "" {
			updates["os_version"] = req.OSVersion
		}
		if req.HardwareSummary != "" {
			updates["hardware_summary"] = req.HardwareSummary
		}
		if err := tx.Model(&device).Updates(updates).Error; err != nil {
			return err
		}

		var pending []models.Action
		if err := tx.Where("device_id = ? AND status = ?", device.ID, models.ActionStatusPending).
			Order("id ASC").
			Find(&pending).Error; err != nil {
			return err
		}

		for _, action := range pending {
			res := tx.Model(&models.Action{}).
				Where("id = ? AND status = ?", action.ID, models.ActionStatusPending).
				Updates(map[string]any{
					"status":     models.ActionStatusRunning,
					"started_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			// Lost the race to a concurrent heartbeat; not ours to deliver.
			if res.RowsAffected == 0 {
				continue
			}
			result.Actions = append(result.Actions, ActionPayload{
				ID:      action.ID,
				Type:    action.Type,
				Payload: action.Payload,
			})
		}

		if s.opts.RequeueRunningAfter > 0 {
			stale, err := s.redeliverStale(tx, device.ID, now)
			if err != nil {
				return err
			}
			result.Actions = append(result.Actions, stale...)
		}

		return nil
	})
	if err != nil {
		return HeartbeatResult{}, err
	}
	return result, nil
}

// redeliverStale hands back running actions whose pickup was never
// followed by a result report within the configured window. The status
// stays running; only started_at is refreshed so the action is not
// re-delivered on every heartbeat.
func (s *Service) redeliverStale(tx *gorm.DB, deviceID int64, now time.Time) ([]ActionPayload, error) {
	cutoff := now.Add(-s.opts.RequeueRunningAfter)

	var stale []models.Action
	if err := tx.Where("device_id = ? AND status = ? AND started_at IS NOT NULL AND started_at < ?",
		deviceID, models.ActionStatusRunning, cutoff).
		Order("id ASC").
		Find(&stale).Error; err != nil {
		return nil, err
	}

	var redelivered []ActionPayload
	for _, action := range stale {
		res := tx.Model(&models.Action{}).
			Where("id = ? AND status = ? AND started_at < ?", action.ID, models.ActionStatusRunning, cutoff).
			Update("started_at", now)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}
		redelivered = append(redelivered, ActionPayload{
			ID:      action.ID,
			Type:    action.Type,
			Payload: action.Payload,
		})
	}
	return redelivered, nil
}

// ResultRequest carries an agent's terminal report for an action.
type ResultRequest struct {
	Status      string
	ExitCode    *int
	Logs        *string
	CompletedAt *time.Time
}

// ReportResult records a terminal status for the action. Status must be
// succeeded or failed. The prior state is deliberately not validated:
// agents may retry submission after a transient network failure, and an
// idempotent overwrite is the safe behaviour for that.
func (s *Service) ReportResult(ctx context.Context, actionID int64, req ResultRequest) error {
	if req.Status != models.ActionStatusSucceeded && req.Status != models.ActionStatusFailed {
		return invalidf("status must be %q or %q", models.ActionStatusSucceeded, models.ActionStatusFailed)
	}

	return s.transaction(ctx, func(tx *gorm.DB) error {
		var action models.Action
		err := tx.First(&action, "id = ?", actionID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return notFound("action", actionID)
		case err != nil:
			return err
		}

		action.Status = req.Status
		if req.Logs != nil {
			action.Logs = req.Logs
		}
		if req.CompletedAt != nil {
			t := req.CompletedAt.UTC()
			action.CompletedAt = &t
		} else {
			t := s.now().UTC()
			action.CompletedAt = &t
		}

		if req.ExitCode != nil {
			note := fmt.Sprintf("exit_code=%d", *req.ExitCode)
			if action.Payload != nil && *action.Payload != "" {
				annotated := *action.Payload + "\n" + note
				action.Payload = &annotated
			} else {
				action.Payload = &note
			}
		}

		return tx.Save(&action).Error
	})
}

// CreateActionRequest describes a direct device action. Either Payload
// or ScriptID must be provided.
type CreateActionRequest struct {
	Type     string
	Payload  *string
	ScriptID *int64
}

// CreateDeviceAction creates a single pending action for the device.
// Unlike the resolver, reference problems here are hard errors: the
// caller named one device and one task, so there is nothing to fall
// back to.
func (s *Service) CreateDeviceAction(ctx context.Context, deviceID int64, req CreateActionRequest) (models.Action, error) {
	if req.Type == "" {
		return models.Action{}, invalidf("action type is required")
	}

	var created models.Action
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		var device models.Device
		err := tx.First(&device, "id = ? AND is_deleted = ?", deviceID, false).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return notFound("device", deviceID)
		case err != nil:
			return err
		}

		payload := req.Payload
		if req.ScriptID != nil {
			var script models.Script
			err := tx.First(&script, "id = ?", *req.ScriptID).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				return notFound("script", *req.ScriptID)
			case err != nil:
				return err
			}

			if models.PowershellActionType(req.Type) && script.Language != models.ScriptLanguagePowershell {
				return invalidf("script language mismatch for powershell action")
			}
			if script.TargetOSType != "" && device.OSType != "" && script.TargetOSType != device.OSType {
				return invalidf("script target_os_type is not compatible with device os_type")
			}

			content := script.Content
			payload = &content
		}

		if payload == nil {
			return invalidf("either payload or script_id must be provided")
		}

		created = models.Action{
			DeviceID: device.ID,
			Type:     req.Type,
			Payload:  payload,
			ScriptID: req.ScriptID,
			Status:   models.ActionStatusPending,
		}
		return tx.Create(&created).Error
	})
	if err != nil {
		return models.Action{}, err
	}
	return created, nil
}

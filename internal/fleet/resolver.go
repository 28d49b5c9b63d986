package fleet

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"deployflow/internal/models"
)

// Skip reasons reported by ApplyProfile.
const (
	SkipDeviceMissing     = "device missing or deleted"
	SkipDeviceOSMismatch  = "device os_type incompatible with profile"
	SkipScriptMissing     = "referenced script missing"
	SkipScriptLanguage    = "script language mismatch for action type"
	SkipScriptOSMismatch  = "script target_os_type incompatible with device"
	SkipInlineNoPayload   = "inline action without payload source"
)

// Skip names one (device, task) pair the resolver passed over and why.
// TaskID is zero when the whole device was skipped.
type Skip struct {
	DeviceID int64  `json:"device_id"`
	TaskID   int64  `json:"task_id,omitempty"`
	Reason   string `json:"reason"`
}

// ApplyResult reports the outcome of a profile application.
type ApplyResult struct {
	Created int
	Skipped []Skip
}

// ApplyProfile expands the profile's tasks into pending actions for each
// target device, applying OS-compatibility filters and skip rules.
// Device ids are processed in caller order and are not deduplicated.
// Missing or incompatible devices and tasks are skipped, not errors:
// partial application against a mixed-OS fleet is expected. Only
// structural problems fail: a missing profile, an empty device list, or
// a profile with no tasks. All created actions commit atomically with
// the decision set that produced them.
func (s *Service) ApplyProfile(ctx context.Context, profileID int64, deviceIDs []int64) (ApplyResult, error) {
	if len(deviceIDs) == 0 {
		return ApplyResult{}, invalidf("no device ids provided")
	}

	var result ApplyResult
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		var profile models.DeploymentProfile
		if err := tx.First(&profile, "id = ?", profileID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("profile", profileID)
			}
			return err
		}

		var tasks []models.ProfileTask
		if err := tx.Where("profile_id = ?", profile.ID).
			Order("order_index ASC, id ASC").
			Find(&tasks).Error; err != nil {
			return err
		}
		if len(tasks) == 0 {
			return invalidf("profile %d has no tasks", profile.ID)
		}

		for _, deviceID := range deviceIDs {
			var device models.Device
			err := tx.First(&device, "id = ? AND is_deleted = ?", deviceID, false).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				result.Skipped = append(result.Skipped, Skip{DeviceID: deviceID, Reason: SkipDeviceMissing})
				continue
			case err != nil:
				return err
			}

			if profile.TargetOSType != "" && device.OSType != "" && profile.TargetOSType != device.OSType {
				result.Skipped = append(result.Skipped, Skip{DeviceID: deviceID, Reason: SkipDeviceOSMismatch})
				continue
			}

			for _, task := range tasks {
				action, skip, err := s.resolveTask(tx, device, task)
				if err != nil {
					return err
				}
				if skip != "" {
					result.Skipped = append(result.Skipped, Skip{DeviceID: device.ID, TaskID: task.ID, Reason: skip})
					continue
				}
				if err := tx.Create(&action).Error; err != nil {
					return err
				}
				result.Created++
			}
		}

		return s.recordAudit(tx, "operator", "profile_applied", profile.Name, map[string]any{
			"profile_id":      profile.ID,
			"device_ids":      deviceIDs,
			"created_actions": result.Created,
			"skipped":         len(result.Skipped),
		})
	})
	if err != nil {
		return ApplyResult{}, err
	}
	return result, nil
}

// resolveTask decides whether the task yields an action for the device
// and freezes the payload. It returns a non-empty skip reason instead of
// an error for the soft-failure cases.
func (s *Service) resolveTask(tx *gorm.DB, device models.Device, task models.ProfileTask) (models.Action, string, error) {
	var payload *string

	if task.ScriptID != nil {
		var script models.Script
		err := tx.First(&script, "id = ?", *task.ScriptID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return models.Action{}, SkipScriptMissing, nil
		case err != nil:
			return models.Action{}, "", err
		}

		if models.PowershellActionType(task.ActionType) && script.Language != models.ScriptLanguagePowershell {
			return models.Action{}, SkipScriptLanguage, nil
		}
		if script.TargetOSType != "" && device.OSType != "" && script.TargetOSType != device.OSType {
			return models.Action{}, SkipScriptOSMismatch, nil
		}

		// Frozen copy: later edits to the script must not change this action.
		content := script.Content
		payload = &content
	}

	if models.InlineActionType(task.ActionType) && payload == nil {
		return models.Action{}, SkipInlineNoPayload, nil
	}

	return models.Action{
		DeviceID: device.ID,
		Type:     task.ActionType,
		Payload:  payload,
		ScriptID: task.ScriptID,
		Status:   models.ActionStatusPending,
	}, "", nil
}

package fleet

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"deployflow/internal/models"
)

const defaultOSType = "windows"

// RegisterRequest carries an agent's enrollment attempt.
type RegisterRequest struct {
	EnrollmentToken string
	Hostname        string
	OSType          string
	OSVersion       string
	HardwareSummary string
}

// RegisterResult tells the agent its device identity and poll cadence.
type RegisterResult struct {
	DeviceID            int64 `json:"device_id"`
	PollIntervalSeconds int   `json:"poll_interval_seconds"`
}

// Register validates the enrollment token and upserts a device keyed by
// hostname: created if absent, otherwise refreshed with the reported
// metadata and marked online.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (RegisterResult, error) {
	if req.Hostname == "" {
		return RegisterResult{}, invalidf("hostname is required")
	}

	var result RegisterResult
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		var token models.EnrollmentToken
		err := tx.First(&token, "token_value = ?", req.EnrollmentToken).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return ErrTokenNotFound
		case err != nil:
			return err
		}
		if token.Expired(s.now().UTC()) {
			return ErrTokenExpired
		}

		now := s.now().UTC()

		var device models.Device
		err = tx.First(&device, "hostname = ?", req.Hostname).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			osType := req.OSType
			if osType == "" {
				osType = defaultOSType
			}
			device = models.Device{
				Hostname:        req.Hostname,
				OSType:          osType,
				OSVersion:       req.OSVersion,
				HardwareSummary: req.HardwareSummary,
				Status:          models.DeviceStatusOnline,
				LastCheckIn:     &now,
			}
			if err := tx.Create(&device).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			osType := device.OSType
			if req.OSType != "" {
				osType = req.OSType
			}
			if osType == "" {
				osType = defaultOSType
			}
			updates := map[string]any{
				"os_version":       req.OSVersion,
				"hardware_summary": req.HardwareSummary,
				"os_type":          osType,
				"status":           models.DeviceStatusOnline,
				"last_check_in":    now,
				"is_deleted":       false,
			}
			if err := tx.Model(&device).Updates(updates).Error; err != nil {
				return err
			}
		}

		result = RegisterResult{
			DeviceID:            device.ID,
			PollIntervalSeconds: int(s.opts.PollInterval / time.Second),
		}

		return s.recordAudit(tx, "agent", "device_enrolled", req.Hostname, map[string]any{
			"device_id": device.ID,
			"token":     token.Name,
		})
	})
	if err != nil {
		return RegisterResult{}, err
	}
	return result, nil
}

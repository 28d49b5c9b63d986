package api

import (
	"errors"
	"fmt"
	"net/http"

	"gorm.io/gorm"

	"deployflow/internal/fleet"
	"deployflow/internal/metrics"
	"deployflow/internal/models"
)

func (a *API) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	query := a.store.ORM.WithContext(ctx).Order("id ASC")
	if r.URL.Query().Get("include_deleted") != "true" {
		query = query.Where("is_deleted = ?", false)
	}
	if osType := r.URL.Query().Get("os_type"); osType != "" {
		query = query.Where("os_type = ?", osType)
	}

	var devices []models.Device
	if err := query.Find(&devices).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

func (a *API) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	var device models.Device
	err = a.store.ORM.WithContext(ctx).First(&device, "id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, fmt.Errorf("device %d not found", id))
	case err != nil:
		respondError(w, http.StatusInternalServerError, err)
	default:
		respondJSON(w, http.StatusOK, map[string]any{"device": device})
	}
}

func (a *API) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		OSType    *string `json:"os_type"`
		ProfileID *int64  `json:"profile_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	orm := a.store.ORM.WithContext(ctx)

	var device models.Device
	err = orm.First(&device, "id = ? AND is_deleted = ?", id, false).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, fmt.Errorf("device %d not found", id))
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	updates := map[string]any{}
	if req.OSType != nil {
		if !models.ValidOSType(*req.OSType) {
			respondError(w, http.StatusBadRequest, fmt.Errorf("unsupported os_type %q", *req.OSType))
			return
		}
		updates["os_type"] = *req.OSType
	}
	if req.ProfileID != nil {
		if *req.ProfileID == 0 {
			updates["profile_id"] = nil
		} else {
			var profile models.DeploymentProfile
			err := orm.First(&profile, "id = ? AND is_template = ?", *req.ProfileID, false).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				respondError(w, http.StatusBadRequest, fmt.Errorf("profile %d not found", *req.ProfileID))
				return
			case err != nil:
				respondError(w, http.StatusInternalServerError, err)
				return
			}
			updates["profile_id"] = *req.ProfileID
		}
	}

	if len(updates) > 0 {
		if err := orm.Model(&device).Updates(updates).Error; err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		if err := orm.First(&device, "id = ?", id).Error; err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"device": device})
}

// handleDeleteDevice soft-deletes: the row survives so historical
// actions keep a valid owner, and a later enrollment under the same
// hostname revives it.
func (a *API) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	res := a.store.ORM.WithContext(ctx).
		Model(&models.Device{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]any{"is_deleted": true, "status": models.DeviceStatusOffline})
	if res.Error != nil {
		respondError(w, http.StatusInternalServerError, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		respondError(w, http.StatusNotFound, fmt.Errorf("device %d not found", id))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (a *API) handleListDeviceActions(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	orm := a.store.ORM.WithContext(ctx)

	var device models.Device
	err = orm.First(&device, "id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, fmt.Errorf("device %d not found", id))
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	query := orm.Where("device_id = ?", id).Order("id DESC")
	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var actions []models.Action
	if err := query.Find(&actions).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

func (a *API) handleCreateDeviceAction(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Type     string  `json:"type"`
		Payload  *string `json:"payload"`
		ScriptID *int64  `json:"script_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if !models.ValidActionType(req.Type) {
		respondError(w, http.StatusBadRequest, fmt.Errorf("unsupported action type %q", req.Type))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	action, err := a.fleet.CreateDeviceAction(ctx, id, fleet.CreateActionRequest{
		Type:     req.Type,
		Payload:  req.Payload,
		ScriptID: req.ScriptID,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	metrics.ActionsCreated.Inc()
	respondJSON(w, http.StatusCreated, map[string]any{"action": action})
}

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"deployflow/internal/fleet"
	"deployflow/internal/metrics"
	"deployflow/internal/models"
)

func (a *API) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	query := a.store.ORM.WithContext(ctx).Order("id ASC")
	switch r.URL.Query().Get("kind") {
	case "template":
		query = query.Where("is_template = ?", true)
	case "concrete":
		query = query.Where("is_template = ?", false)
	}

	var profiles []models.DeploymentProfile
	if err := query.Find(&profiles).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"profiles": profiles})
}

func (a *API) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string `json:"name"`
		Description  string `json:"description"`
		TargetOSType string `json:"target_os_type"`
		IsTemplate   bool   `json:"is_template"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}
	if req.TargetOSType != "" && !models.ValidOSType(req.TargetOSType) {
		respondError(w, http.StatusBadRequest, fmt.Errorf("unsupported target_os_type %q", req.TargetOSType))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	profile := models.DeploymentProfile{
		Name:         req.Name,
		Description:  req.Description,
		TargetOSType: req.TargetOSType,
		IsTemplate:   req.IsTemplate,
	}
	if err := a.store.ORM.WithContext(ctx).Create(&profile).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"profile": profile})
}

func (a *API) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	orm := a.store.ORM.WithContext(ctx)

	var profile models.DeploymentProfile
	err = orm.First(&profile, "id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, fmt.Errorf("profile %d not found", id))
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	var tasks []models.ProfileTask
	if err := orm.Where("profile_id = ?", id).Order("order_index ASC, id ASC").Find(&tasks).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"profile": profile, "tasks": tasks})
}

func (a *API) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Description  *string `json:"description"`
		TargetOSType *string `json:"target_os_type"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	orm := a.store.ORM.WithContext(ctx)

	var profile models.DeploymentProfile
	err = orm.First(&profile, "id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, fmt.Errorf("profile %d not found", id))
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	updates := map[string]any{}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.TargetOSType != nil {
		if *req.TargetOSType != "" && !models.ValidOSType(*req.TargetOSType) {
			respondError(w, http.StatusBadRequest, fmt.Errorf("unsupported target_os_type %q", *req.TargetOSType))
			return
		}
		updates["target_os_type"] = *req.TargetOSType
	}

	if len(updates) > 0 {
		if err := orm.Model(&profile).Updates(updates).Error; err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		if err := orm.First(&profile, "id = ?", id).Error; err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"profile": profile})
}

func (a *API) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	err = a.store.ORM.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.DeploymentProfile{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		// Tasks belong to the profile; actions already resolved from
		// them are standalone and survive.
		if err := tx.Delete(&models.ProfileTask{}, "profile_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Model(&models.Device{}).Where("profile_id = ?", id).Update("profile_id", nil).Error
	})
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, fmt.Errorf("profile %d not found", id))
	case err != nil:
		respondError(w, http.StatusInternalServerError, err)
	default:
		respondJSON(w, http.StatusOK, map[string]any{"deleted": id})
	}
}

func (a *API) handleListProfileTasks(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	var tasks []models.ProfileTask
	if err := a.store.ORM.WithContext(ctx).
		Where("profile_id = ?", id).
		Order("order_index ASC, id ASC").
		Find(&tasks).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (a *API) handleCreateProfileTask(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Name            string `json:"name"`
		Description     string `json:"description"`
		OrderIndex      int    `json:"order_index"`
		ActionType      string `json:"action_type"`
		ScriptID        *int64 `json:"script_id"`
		SoftwareID      *int64 `json:"software_id"`
		ContinueOnError *bool  `json:"continue_on_error"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}
	if !models.ValidActionType(req.ActionType) {
		respondError(w, http.StatusBadRequest, fmt.Errorf("unsupported action_type %q", req.ActionType))
		return
	}
	if req.ActionType == models.ActionTypeSoftwareInstall && req.SoftwareID == nil {
		respondError(w, http.StatusBadRequest, errors.New("software_id is required for software_install tasks"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	orm := a.store.ORM.WithContext(ctx)

	var profile models.DeploymentProfile
	err = orm.First(&profile, "id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, fmt.Errorf("profile %d not found", id))
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	if req.ScriptID != nil {
		var script models.Script
		if err := orm.First(&script, "id = ?", *req.ScriptID).Error; err != nil {
			respondError(w, http.StatusBadRequest, fmt.Errorf("script %d not found", *req.ScriptID))
			return
		}
	}
	if req.SoftwareID != nil {
		var pkg models.SoftwarePackage
		if err := orm.First(&pkg, "id = ?", *req.SoftwareID).Error; err != nil {
			respondError(w, http.StatusBadRequest, fmt.Errorf("software package %d not found", *req.SoftwareID))
			return
		}
	}

	continueOnError := true
	if req.ContinueOnError != nil {
		continueOnError = *req.ContinueOnError
	}

	task := models.ProfileTask{
		ProfileID:       profile.ID,
		Name:            req.Name,
		Description:     req.Description,
		OrderIndex:      req.OrderIndex,
		ActionType:      req.ActionType,
		ScriptID:        req.ScriptID,
		SoftwareID:      req.SoftwareID,
		ContinueOnError: continueOnError,
	}
	if err := orm.Create(&task).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"task": task})
}

func (a *API) handleUpdateProfileTask(w http.ResponseWriter, r *http.Request) {
	profileID, err := idParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	taskID, err := idParam(r, "taskID")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Name            *string `json:"name"`
		Description     *string `json:"description"`
		OrderIndex      *int    `json:"order_index"`
		ContinueOnError *bool   `json:"continue_on_error"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	orm := a.store.ORM.WithContext(ctx)

	var task models.ProfileTask
	err = orm.First(&task, "id = ? AND profile_id = ?", taskID, profileID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, fmt.Errorf("task %d not found in profile %d", taskID, profileID))
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	updates := map[string]any{}
	if req.Name != nil && strings.TrimSpace(*req.Name) != "" {
		updates["name"] = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.OrderIndex != nil {
		updates["order_index"] = *req.OrderIndex
	}
	if req.ContinueOnError != nil {
		updates["continue_on_error"] = *req.ContinueOnError
	}

	if len(updates) > 0 {
		if err := orm.Model(&task).Updates(updates).Error; err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		if err := orm.First(&task, "id = ?", taskID).Error; err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (a *API) handleDeleteProfileTask(w http.ResponseWriter, r *http.Request) {
	profileID, err := idParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	taskID, err := idParam(r, "taskID")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	res := a.store.ORM.WithContext(ctx).Delete(&models.ProfileTask{}, "id = ? AND profile_id = ?", taskID, profileID)
	if res.Error != nil {
		respondError(w, http.StatusInternalServerError, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		respondError(w, http.StatusNotFound, fmt.Errorf("task %d not found in profile %d", taskID, profileID))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": taskID})
}

func (a *API) handleApplyProfile(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		DeviceIDs []int64 `json:"device_ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	result, err := a.fleet.ApplyProfile(ctx, id, req.DeviceIDs)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	metrics.ProfileApplies.Inc()
	metrics.ActionsCreated.Add(float64(result.Created))
	a.publishJSON(profilesAppliedTopic, map[string]any{
		"profile_id": id,
		"devices":    len(req.DeviceIDs),
		"created":    result.Created,
		"skipped":    len(result.Skipped),
	})
	respondJSON(w, http.StatusOK, map[string]any{
		"created": result.Created,
		"skipped": result.Skipped,
	})
}

func (a *API) handleInstantiateTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	profile, err := a.fleet.InstantiateTemplate(ctx, id, fleet.InstantiateRequest{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"profile": profile})
}

// handleReplaceProfileTasks swaps the profile's task list atomically.
// Editors save the whole list at once, so replace beats patching
// individual rows.
func (a *API) handleReplaceProfileTasks(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Tasks []struct {
			Name            string `json:"name"`
			Description     string `json:"description"`
			OrderIndex      int    `json:"order_index"`
			ActionType      string `json:"action_type"`
			ScriptID        *int64 `json:"script_id"`
			SoftwareID      *int64 `json:"software_id"`
			ContinueOnError *bool  `json:"continue_on_error"`
		} `json:"tasks"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	for i, task := range req.Tasks {
		if strings.TrimSpace(task.Name) == "" {
			respondError(w, http.StatusBadRequest, fmt.Errorf("task %d: name is required", i))
			return
		}
		if !models.ValidActionType(task.ActionType) {
			respondError(w, http.StatusBadRequest, fmt.Errorf("task %d: unsupported action_type %q", i, task.ActionType))
			return
		}
		if task.ActionType == models.ActionTypeSoftwareInstall && task.SoftwareID == nil {
			respondError(w, http.StatusBadRequest, fmt.Errorf("task %d: software_id is required for software_install tasks", i))
			return
		}
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	var tasks []models.ProfileTask
	err = a.store.ORM.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var profile models.DeploymentProfile
		if err := tx.First(&profile, "id = ?", id).Error; err != nil {
			return err
		}

		for i, task := range req.Tasks {
			if task.ScriptID != nil {
				var script models.Script
				if err := tx.First(&script, "id = ?", *task.ScriptID).Error; err != nil {
					return fmt.Errorf("task %d: script %d not found", i, *task.ScriptID)
				}
			}
			if task.SoftwareID != nil {
				var pkg models.SoftwarePackage
				if err := tx.First(&pkg, "id = ?", *task.SoftwareID).Error; err != nil {
					return fmt.Errorf("task %d: software package %d not found", i, *task.SoftwareID)
				}
			}
		}

		if err := tx.Where("profile_id = ?", profile.ID).Delete(&models.ProfileTask{}).Error; err != nil {
			return err
		}

		for _, task := range req.Tasks {
			continueOnError := true
			if task.ContinueOnError != nil {
				continueOnError = *task.ContinueOnError
			}
			row := models.ProfileTask{
				ProfileID:       profile.ID,
				Name:            strings.TrimSpace(task.Name),
				Description:     task.Description,
				OrderIndex:      task.OrderIndex,
				ActionType:      task.ActionType,
				ScriptID:        task.ScriptID,
				SoftwareID:      task.SoftwareID,
				ContinueOnError: continueOnError,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			tasks = append(tasks, row)
		}
		return nil
	})
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, fmt.Errorf("profile %d not found", id))
	case err != nil:
		respondError(w, http.StatusBadRequest, err)
	default:
		respondJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
	}
}

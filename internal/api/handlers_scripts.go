package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"deployflow/internal/models"
)

func (a *API) handleListScripts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	query := a.store.ORM.WithContext(ctx).Order("id ASC")
	if language := r.URL.Query().Get("language"); language != "" {
		query = query.Where("language = ?", language)
	}

	var scripts []models.Script
	if err := query.Find(&scripts).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"scripts": scripts})
}

func (a *API) handleCreateScript(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string `json:"name"`
		Description  string `json:"description"`
		Language     string `json:"language"`
		TargetOSType string `json:"target_os_type"`
		Content      string `json:"content"`
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
	if req.Content == "" {
		respondError(w, http.StatusBadRequest, errors.New("content is required"))
		return
	}
	if req.Language == "" {
		req.Language = models.ScriptLanguagePowershell
	}
	if !models.ValidScriptLanguage(req.Language) {
		respondError(w, http.StatusBadRequest, fmt.Errorf("unsupported language %q", req.Language))
		return
	}
	if req.TargetOSType != "" && !models.ValidOSType(req.TargetOSType) {
		respondError(w, http.StatusBadRequest, fmt.Errorf("unsupported target_os_type %q", req.TargetOSType))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	script := models.Script{
		Name:         req.Name,
		Description:  req.Description,
		Language:     req.Language,
		TargetOSType: req.TargetOSType,
		Content:      req.Content,
	}
	if err := a.store.ORM.WithContext(ctx).Create(&script).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"script": script})
}

func (a *API) handleGetScript(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	var script models.Script
	err = a.store.ORM.WithContext(ctx).First(&script, "id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, fmt.Errorf("script %d not found", id))
	case err != nil:
		respondError(w, http.StatusInternalServerError, err)
	default:
		respondJSON(w, http.StatusOK, map[string]any{"script": script})
	}
}

func (a *API) handleUpdateScript(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Description  *string `json:"description"`
		TargetOSType *string `json:"target_os_type"`
		Content      *string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	orm := a.store.ORM.WithContext(ctx)

	var script models.Script
	err = orm.First(&script, "id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, fmt.Errorf("script %d not found", id))
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	// Name and language are identity; only content and metadata move.
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
	if req.Content != nil {
		if *req.Content == "" {
			respondError(w, http.StatusBadRequest, errors.New("content cannot be emptied"))
			return
		}
		updates["content"] = *req.Content
	}

	if len(updates) > 0 {
		if err := orm.Model(&script).Updates(updates).Error; err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		if err := orm.First(&script, "id = ?", id).Error; err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"script": script})
}

func (a *API) handleDeleteScript(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	orm := a.store.ORM.WithContext(ctx)

	var refs int64
	if err := orm.Model(&models.ProfileTask{}).Where("script_id = ?", id).Count(&refs).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if refs > 0 {
		respondError(w, http.StatusConflict, fmt.Errorf("script %d is referenced by %d profile task(s)", id, refs))
		return
	}

	res := orm.Delete(&models.Script{}, "id = ?", id)
	if res.Error != nil {
		respondError(w, http.StatusInternalServerError, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		respondError(w, http.StatusNotFound, fmt.Errorf("script %d not found", id))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

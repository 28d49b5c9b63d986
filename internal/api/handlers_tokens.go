package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"deployflow/internal/models"
	"deployflow/internal/render"
)

func (a *API) handleListTokens(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	var tokens []models.EnrollmentToken
	if err := a.store.ORM.WithContext(ctx).Order("id ASC").Find(&tokens).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"tokens": tokens})
}

func (a *API) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name            string     `json:"name"`
		TokenValue      string     `json:"token_value"`
		Description     string     `json:"description"`
		ExpiresAt       *time.Time `json:"expires_at"`
		AllowedProfiles []int64    `json:"allowed_profiles"`
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
	if req.TokenValue == "" {
		req.TokenValue = uuid.New().String()
	}
	if req.ExpiresAt != nil && req.ExpiresAt.Before(time.Now().UTC()) {
		respondError(w, http.StatusBadRequest, errors.New("expires_at is already in the past"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	token := models.EnrollmentToken{
		Name:            req.Name,
		TokenValue:      req.TokenValue,
		Description:     req.Description,
		ExpiresAt:       req.ExpiresAt,
		AllowedProfiles: datatypes.NewJSONSlice(req.AllowedProfiles),
	}
	if err := a.store.ORM.WithContext(ctx).Create(&token).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"token": token})
}

func (a *API) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	res := a.store.ORM.WithContext(ctx).Delete(&models.EnrollmentToken{}, "id = ?", id)
	if res.Error != nil {
		respondError(w, http.StatusInternalServerError, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		respondError(w, http.StatusNotFound, fmt.Errorf("token %d not found", id))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// handleTokenInstallScript renders a copy-paste enrollment script for the
// token, so a device can be bootstrapped without hand-writing agent.conf.
func (a *API) handleTokenInstallScript(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	osType := r.URL.Query().Get("os_type")
	if osType == "" {
		osType = "windows"
	}
	if !models.ValidOSType(osType) {
		respondError(w, http.StatusBadRequest, fmt.Errorf("unsupported os_type %q", osType))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	var token models.EnrollmentToken
	err = a.store.ORM.WithContext(ctx).First(&token, "id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, fmt.Errorf("token %d not found", id))
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if token.Expired(time.Now().UTC()) {
		respondError(w, http.StatusConflict, fmt.Errorf("token %d is expired", id))
		return
	}

	baseURL := a.config.ExternalURL
	if baseURL == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		baseURL = scheme + "://" + r.Host
	}

	script, err := a.render.EnrollScript(osType, render.EnrollParams{
		APIBaseURL: baseURL,
		Token:      token.TokenValue,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, script)
}

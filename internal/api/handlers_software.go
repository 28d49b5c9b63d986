package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"deployflow/internal/models"
)

func (a *API) handleListSoftware(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	var packages []models.SoftwarePackage
	if err := a.store.ORM.WithContext(ctx).Order("id ASC").Find(&packages).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"software": packages})
}

func (a *API) handleCreateSoftware(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name          string  `json:"name"`
		Slug          *string `json:"slug"`
		Version       string  `json:"version"`
		InstallerType string  `json:"installer_type"`
		SourceType    string  `json:"source_type"`
		Source        string  `json:"source"`
		InstallArgs   string  `json:"install_args"`
		UninstallArgs string  `json:"uninstall_args"`
		TargetOSType  string  `json:"target_os_type"`
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
	if !models.ValidInstallerType(req.InstallerType) {
		respondError(w, http.StatusBadRequest, fmt.Errorf("unsupported installer_type %q", req.InstallerType))
		return
	}
	// winget/choco resolve by package name; everyone else needs a source.
	if req.Source == "" && !models.SourcelessInstaller(req.InstallerType) {
		respondError(w, http.StatusBadRequest, fmt.Errorf("source is required for installer_type %q", req.InstallerType))
		return
	}
	if req.Source != "" && !models.ValidSourceType(req.SourceType) {
		respondError(w, http.StatusBadRequest, fmt.Errorf("unsupported source_type %q", req.SourceType))
		return
	}
	if req.SourceType == "" {
		req.SourceType = "url"
	}
	if req.TargetOSType != "" && !models.ValidOSType(req.TargetOSType) {
		respondError(w, http.StatusBadRequest, fmt.Errorf("unsupported target_os_type %q", req.TargetOSType))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	pkg := models.SoftwarePackage{
		Name:          req.Name,
		Slug:          req.Slug,
		Version:       req.Version,
		InstallerType: req.InstallerType,
		SourceType:    req.SourceType,
		Source:        req.Source,
		InstallArgs:   req.InstallArgs,
		UninstallArgs: req.UninstallArgs,
		TargetOSType:  req.TargetOSType,
	}
	if err := a.store.ORM.WithContext(ctx).Create(&pkg).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"software": pkg})
}

func (a *API) handleGetSoftware(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	var pkg models.SoftwarePackage
	err = a.store.ORM.WithContext(ctx).First(&pkg, "id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, fmt.Errorf("software package %d not found", id))
	case err != nil:
		respondError(w, http.StatusInternalServerError, err)
	default:
		respondJSON(w, http.StatusOK, map[string]any{"software": pkg})
	}
}

func (a *API) handleUpdateSoftware(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Version       *string `json:"version"`
		Source        *string `json:"source"`
		SourceType    *string `json:"source_type"`
		InstallArgs   *string `json:"install_args"`
		UninstallArgs *string `json:"uninstall_args"`
		TargetOSType  *string `json:"target_os_type"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	orm := a.store.ORM.WithContext(ctx)

	var pkg models.SoftwarePackage
	err = orm.First(&pkg, "id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, fmt.Errorf("software package %d not found", id))
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	updates := map[string]any{}
	if req.Version != nil {
		updates["version"] = *req.Version
	}
	if req.Source != nil {
		updates["source"] = *req.Source
	}
	if req.SourceType != nil {
		if !models.ValidSourceType(*req.SourceType) {
			respondError(w, http.StatusBadRequest, fmt.Errorf("unsupported source_type %q", *req.SourceType))
			return
		}
		updates["source_type"] = *req.SourceType
	}
	if req.InstallArgs != nil {
		updates["install_args"] = *req.InstallArgs
	}
	if req.UninstallArgs != nil {
		updates["uninstall_args"] = *req.UninstallArgs
	}
	if req.TargetOSType != nil {
		if *req.TargetOSType != "" && !models.ValidOSType(*req.TargetOSType) {
			respondError(w, http.StatusBadRequest, fmt.Errorf("unsupported target_os_type %q", *req.TargetOSType))
			return
		}
		updates["target_os_type"] = *req.TargetOSType
	}

	if len(updates) > 0 {
		if err := orm.Model(&pkg).Updates(updates).Error; err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		if err := orm.First(&pkg, "id = ?", id).Error; err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"software": pkg})
}

func (a *API) handleDeleteSoftware(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.fleet.DeleteSoftwarePackage(ctx, id); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

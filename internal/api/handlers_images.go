package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"deployflow/internal/models"
)

func (a *API) handleListImages(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	var images []models.OSImage
	if err := a.store.ORM.WithContext(ctx).Order("id ASC").Find(&images).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"images": images})
}

func (a *API) handleCreateImage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Version     string `json:"version"`
		Description string `json:"description"`
		Checksum    string `json:"checksum"`
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

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	// The storage key is fixed at creation; the payload arrives later
	// through the presigned upload URL.
	image := models.OSImage{
		Name:        req.Name,
		Version:     req.Version,
		Description: req.Description,
		Checksum:    req.Checksum,
		StorageRef:  fmt.Sprintf("images/%s", uuid.New()),
	}
	if err := a.store.ORM.WithContext(ctx).Create(&image).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"image": image})
}

func (a *API) handleGetImage(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	var image models.OSImage
	err = a.store.ORM.WithContext(ctx).First(&image, "id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, fmt.Errorf("image %d not found", id))
	case err != nil:
		respondError(w, http.StatusInternalServerError, err)
	default:
		respondJSON(w, http.StatusOK, map[string]any{"image": image})
	}
}

func (a *API) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	res := a.store.ORM.WithContext(ctx).Delete(&models.OSImage{}, "id = ?", id)
	if res.Error != nil {
		respondError(w, http.StatusInternalServerError, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		respondError(w, http.StatusNotFound, fmt.Errorf("image %d not found", id))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (a *API) handleImageUploadURL(w http.ResponseWriter, r *http.Request) {
	a.presignImage(w, r, func(key string) (string, error) {
		ctx, cancel := withTimeout(r.Context())
		defer cancel()
		return a.store.S3.PresignPut(ctx, a.config.ImageBucket, key, a.config.PresignTTL)
	}, "upload_url")
}

func (a *API) handleImageDownloadURL(w http.ResponseWriter, r *http.Request) {
	a.presignImage(w, r, func(key string) (string, error) {
		ctx, cancel := withTimeout(r.Context())
		defer cancel()
		return a.store.S3.PresignGet(ctx, a.config.ImageBucket, key, a.config.PresignTTL)
	}, "download_url")
}

func (a *API) presignImage(w http.ResponseWriter, r *http.Request, presign func(key string) (string, error), field string) {
	if a.store.S3 == nil || a.config.ImageBucket == "" {
		respondError(w, http.StatusFailedDependency, errors.New("s3 client not configured"))
		return
	}

	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	var image models.OSImage
	err = a.store.ORM.WithContext(ctx).First(&image, "id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, fmt.Errorf("image %d not found", id))
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	url, err := presign(image.StorageRef)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Errorf("presign: %w", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"image_id": image.ID,
		field:      url,
	})
}

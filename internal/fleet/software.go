package fleet

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"deployflow/internal/models"
)

// DeleteSoftwarePackage removes the package unless a profile task still
// references it, in which case the delete is blocked with a conflict.
func (s *Service) DeleteSoftwarePackage(ctx context.Context, softwareID int64) error {
	return s.transaction(ctx, func(tx *gorm.DB) error {
		var pkg models.SoftwarePackage
		err := tx.First(&pkg, "id = ?", softwareID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return notFound("software package", softwareID)
		case err != nil:
			return err
		}

		var refs int64
		if err := tx.Model(&models.ProfileTask{}).
			Where("software_id = ?", pkg.ID).
			Count(&refs).Error; err != nil {
			return err
		}
		if refs > 0 {
			return conflictf("software package %d is referenced by %d profile task(s)", pkg.ID, refs)
		}

		if err := tx.Delete(&pkg).Error; err != nil {
			return err
		}

		return s.recordAudit(tx, "operator", "software_deleted", pkg.Name, map[string]any{
			"software_id": pkg.ID,
		})
	})
}

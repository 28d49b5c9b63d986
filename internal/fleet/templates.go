package fleet

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"deployflow/internal/models"
)

// InstantiateRequest names the concrete profile cloned from a template.
// Empty fields fall back to the template's values.
type InstantiateRequest struct {
	Name        string
	Description string
}

// InstantiateTemplate clones a template profile and its tasks into a new
// concrete (non-template) profile, preserving task order, references,
// and continue_on_error flags.
func (s *Service) InstantiateTemplate(ctx context.Context, templateID int64, req InstantiateRequest) (models.DeploymentProfile, error) {
	var profile models.DeploymentProfile
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		var template models.DeploymentProfile
		err := tx.First(&template, "id = ? AND is_template = ?", templateID, true).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return notFound("template", templateID)
		case err != nil:
			return err
		}

		name := req.Name
		if name == "" {
			name = fmt.Sprintf("%s (copy)", template.Name)
		}
		description := req.Description
		if description == "" {
			description = template.Description
		}

		var existing models.DeploymentProfile
		err = tx.First(&existing, "name = ?", name).Error
		switch {
		case err == nil:
			return conflictf("profile with name %q already exists", name)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		profile = models.DeploymentProfile{
			Name:         name,
			Description:  description,
			TargetOSType: template.TargetOSType,
			IsTemplate:   false,
		}
		if err := tx.Create(&profile).Error; err != nil {
			return err
		}

		var tasks []models.ProfileTask
		if err := tx.Where("profile_id = ?", template.ID).
			Order("order_index ASC, id ASC").
			Find(&tasks).Error; err != nil {
			return err
		}

		for _, task := range tasks {
			clone := models.ProfileTask{
				ProfileID:       profile.ID,
				Name:            task.Name,
				Description:     task.Description,
				OrderIndex:      task.OrderIndex,
				ActionType:      task.ActionType,
				ScriptID:        task.ScriptID,
				SoftwareID:      task.SoftwareID,
				ContinueOnError: task.ContinueOnError,
			}
			if err := tx.Create(&clone).Error; err != nil {
				return err
			}
		}

		return s.recordAudit(tx, "operator", "template_instantiated", template.Name, map[string]any{
			"template_id": template.ID,
			"profile_id":  profile.ID,
			"tasks":       len(tasks),
		})
	})
	if err != nil {
		return models.DeploymentProfile{}, err
	}
	return profile, nil
}

package db

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"deployflow/internal/models"
)

// seedFile is the on-disk shape of a token seed document.
type seedFile struct {
	EnrollmentTokens []struct {
		Name        string     `yaml:"name"`
		TokenValue  string     `yaml:"token_value"`
		Description string     `yaml:"description"`
		ExpiresAt   *time.Time `yaml:"expires_at"`
	} `yaml:"enrollment_tokens"`
}

// Seed inserts enrollment tokens from a YAML file. Existing tokens are
// left alone, so the seed is safe to re-run on every boot. An empty path
// is a no-op.
func Seed(ctx context.Context, database *gorm.DB, path string) error {
	if path == "" {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}

	var doc seedFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	for _, entry := range doc.EnrollmentTokens {
		if entry.Name == "" || entry.TokenValue == "" {
			return fmt.Errorf("seed token needs both name and token_value")
		}
		token := models.EnrollmentToken{
			Name:        entry.Name,
			TokenValue:  entry.TokenValue,
			Description: entry.Description,
			ExpiresAt:   entry.ExpiresAt,
		}
		if err := database.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&token).Error; err != nil {
			return fmt.Errorf("seed token %q: %w", entry.Name, err)
		}
	}
	return nil
}

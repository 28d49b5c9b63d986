package fleet

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"deployflow/internal/models"
)

const defaultPollInterval = 30 * time.Second

// Options tunes service behaviour. The zero value is usable.
type Options struct {
	// PollInterval is the hint returned to agents at registration.
	PollInterval time.Duration
	// RequeueRunningAfter, when positive, makes heartbeats re-deliver
	// running actions that were picked up longer ago than this and never
	// reported. Zero disables re-delivery: an agent that loses a
	// heartbeat response leaves its actions running until it reports.
	RequeueRunningAfter time.Duration
}

// Service implements the profile-application resolver, the action
// lifecycle, and agent registration. Every operation runs inside a
// single database transaction.
type Service struct {
	orm  *gorm.DB
	opts Options
	now  func() time.Time
}

// New constructs a Service bound to the provided gorm handle.
func New(orm *gorm.DB, opts Options) (*Service, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &Service{orm: orm, opts: opts, now: time.Now}, nil
}

func (s *Service) recordAudit(tx *gorm.DB, actor, action, obj string, details map[string]any) error {
	entry := models.AuditEntry{
		Actor:   actor,
		Action:  action,
		Obj:     obj,
		Details: datatypes.JSONMap(details),
	}
	return tx.Create(&entry).Error
}

func (s *Service) transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.orm.WithContext(ctx).Transaction(fn)
}

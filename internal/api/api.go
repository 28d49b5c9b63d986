package api

import (
	"errors"
	"time"

	"deployflow/internal/fleet"
	"deployflow/internal/render"
)

const (
	defaultPresignTTL = 15 * time.Minute

	devicesEnrolledTopic  = "deployflow.devices.enrolled"
	profilesAppliedTopic  = "deployflow.profiles.applied"
	actionsCompletedTopic = "deployflow.actions.completed"
)

// Config controls runtime behaviour for the API handlers.
type Config struct {
	AllowedOrigins []string
	// ExternalURL is the base URL agents use to reach this API. When
	// empty, enrollment scripts fall back to the request host.
	ExternalURL string
	// AdminToken, when set, gates token management endpoints behind a
	// bearer token.
	AdminToken          string
	ImageBucket         string
	PresignTTL          time.Duration
	AgentPollInterval   time.Duration
	RequeueRunningAfter time.Duration
}

// API wires dependencies, the fleet service, and configuration for HTTP handlers.
type API struct {
	store  *Store
	fleet  *fleet.Service
	render *render.Engine
	config Config
}

// New initialises the API layer with sane defaults applied to the provided configuration.
func New(store *Store, cfg Config) (*API, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if store.ORM == nil {
		return nil, errors.New("store ORM is required")
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = defaultPresignTTL
	}

	svc, err := fleet.New(store.ORM, fleet.Options{
		PollInterval:        cfg.AgentPollInterval,
		RequeueRunningAfter: cfg.RequeueRunningAfter,
	})
	if err != nil {
		return nil, err
	}

	engine, err := render.New()
	if err != nil {
		return nil, err
	}

	return &API{
		store:  store,
		fleet:  svc,
		render: engine,
		config: cfg,
	}, nil
}

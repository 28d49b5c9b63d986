package agent

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"deployflow/internal/models"
)

const defaultPollInterval = 30 * time.Second

// Service is the long-running agent process: it enrolls with the fleet
// API, heartbeats on the server-assigned cadence, executes delivered
// actions, and reports their results.
type Service struct {
	cfg      Config
	client   *Client
	executor Executor
	log      zerolog.Logger

	deviceID int64
	interval time.Duration
}

// NewService wires an agent Service from its configuration.
func NewService(cfg Config, logger zerolog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		client:   NewClient(cfg.API),
		executor: ShellExecutor{},
		log:      logger,
		interval: defaultPollInterval,
	}
}

// Run registers and then polls until the context is cancelled.
// Registering is an upsert on the server, so restarting the agent is
// always safe.
func (s *Service) Run(ctx context.Context) error {
	if err := s.register(ctx); err != nil {
		return err
	}

	// First poll immediately; installers want feedback before 30s.
	s.pollOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Service) register(ctx context.Context) error {
	backoff := retry.WithMaxRetries(5, retry.NewFibonacci(time.Second))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp, err := s.client.Register(ctx, s.cfg, osVersion(), hardwareSummary())
		if err != nil {
			s.log.Warn().Err(err).Msg("enrollment attempt failed")
			return retry.RetryableError(err)
		}

		s.deviceID = resp.DeviceID
		if resp.PollIntervalSeconds > 0 {
			s.interval = time.Duration(resp.PollIntervalSeconds) * time.Second
		}
		s.log.Info().Int64("device_id", s.deviceID).Dur("poll_interval", s.interval).Msg("enrolled")
		return nil
	})
}

func (s *Service) pollOnce(ctx context.Context) {
	resp, err := s.client.Heartbeat(ctx, s.deviceID, models.DeviceStatusOnline)
	if err != nil {
		s.log.Warn().Err(err).Msg("heartbeat failed")
		return
	}

	for _, action := range resp.Actions {
		s.runAction(ctx, action)
	}
}

func (s *Service) runAction(ctx context.Context, action Action) {
	logger := s.log.With().Int64("action_id", action.ID).Str("type", action.Type).Logger()

	payload := ""
	if action.Payload != nil {
		payload = *action.Payload
	}

	exitCode, output, err := s.executor.Execute(ctx, action.Type, payload)
	status := models.ActionStatusSucceeded
	if err != nil {
		status = models.ActionStatusFailed
		output = err.Error()
		if exitCode == 0 {
			exitCode = -1
		}
	} else if exitCode != 0 {
		status = models.ActionStatusFailed
	}

	// Result submission is idempotent on the server, so retrying a report
	// that may have landed is safe.
	backoff := retry.WithMaxRetries(4, retry.NewFibonacci(time.Second))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := s.client.ReportResult(ctx, action.ID, status, exitCode, output); err != nil {
			logger.Warn().Err(err).Msg("report attempt failed")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		// The server keeps the action running; the requeue window (if
		// enabled) will re-deliver it.
		logger.Error().Err(err).Msg("report result failed")
		return
	}
	logger.Info().Str("status", status).Int("exit_code", exitCode).Msg("action completed")
}

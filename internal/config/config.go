package config

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration for the fleet API service.
type Config struct {
	Addr         string `env:"ADDR,default=:8080"`
	DBDSN        string `env:"DB_DSN,required"`
	NATSURL      string `env:"NATS_URL"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:5173"`
	// ExternalURL is the base URL agents use to reach the API, embedded
	// in rendered enrollment scripts.
	ExternalURL string `env:"EXTERNAL_URL"`
	// AdminToken gates token management endpoints when set.
	AdminToken string `env:"ADMIN_TOKEN"`
	SeedFile   string `env:"SEED_FILE"`

	// AgentPollInterval is the cadence hint handed to agents at
	// registration. RequeueRunningAfter, when positive, re-delivers
	// running actions whose pickup was never followed by a result.
	AgentPollInterval   time.Duration `env:"AGENT_POLL_INTERVAL,default=30s"`
	RequeueRunningAfter time.Duration `env:"REQUEUE_RUNNING_AFTER"`

	ImageBucket      string        `env:"S3_BUCKET"`
	S3Endpoint       string        `env:"S3_ENDPOINT"`
	S3AccessKey      string        `env:"S3_ACCESS_KEY"`
	S3SecretKey      string        `env:"S3_SECRET_KEY"`
	S3Region         string        `env:"S3_REGION,default=us-east-1"`
	S3DisableTLS     bool          `env:"S3_DISABLE_TLS,default=false"`
	S3ForcePathStyle bool          `env:"S3_FORCE_PATH_STYLE,default=true"`
	PresignTTL       time.Duration `env:"S3_PRESIGN_TTL,default=15m"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// S3Enabled reports whether enough object-store configuration is
// present to serve the image endpoints.
func (c Config) S3Enabled() bool {
	return c.S3Endpoint != "" && c.ImageBucket != ""
}

package agent

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// DefaultConfigPath is where the agent expects its JSON configuration.
const DefaultConfigPath = "/etc/deployflow/agent.conf"

// Config is the on-disk agent configuration.
type Config struct {
	API             string `json:"api"`
	EnrollmentToken string `json:"enrollment_token"`
	Hostname        string `json:"hostname"`
	OSType          string `json:"os_type"`
}

// LoadConfig reads and validates the agent configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if strings.TrimSpace(cfg.API) == "" {
		return Config{}, fmt.Errorf("config missing api field")
	}
	if err := ensureHTTPS(cfg.API, allowInsecureHTTP()); err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(cfg.EnrollmentToken) == "" {
		return Config{}, fmt.Errorf("config missing enrollment_token field")
	}

	if cfg.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return Config{}, fmt.Errorf("resolve hostname: %w", err)
		}
		cfg.Hostname = hostname
	}

	return cfg, nil
}

const requestTimeout = 15 * time.Second

func allowInsecureHTTP() bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOYFLOW_ALLOW_INSECURE_HTTP")))
	switch value {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func ensureHTTPS(raw string, allowInsecure bool) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse api url: %w", err)
	}

	switch parsed.Scheme {
	case "https":
		return nil
	case "http", "":
		if allowInsecure {
			return nil
		}
		if parsed.Scheme == "" {
			return fmt.Errorf("api url must include https scheme")
		}
		return fmt.Errorf("api url must use https: %s", raw)
	default:
		if allowInsecure {
			return nil
		}
		return fmt.Errorf("api url must use https: %s", raw)
	}
}

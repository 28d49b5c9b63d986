package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client speaks the agent-facing slice of the fleet API.
type Client struct {
	http *http.Client
	base string
}

// NewClient builds a Client for the given API base URL.
func NewClient(base string) *Client {
	return &Client{
		http: &http.Client{Timeout: requestTimeout},
		base: strings.TrimRight(base, "/"),
	}
}

// RegisterResponse is the enrollment reply.
type RegisterResponse struct {
	DeviceID            int64 `json:"device_id"`
	PollIntervalSeconds int   `json:"poll_interval_seconds"`
}

// Action is one unit of work delivered by a heartbeat.
type Action struct {
	ID      int64   `json:"id"`
	Type    string  `json:"type"`
	Payload *string `json:"payload"`
}

// HeartbeatResponse carries the actions picked up by one heartbeat.
type HeartbeatResponse struct {
	Actions []Action `json:"actions"`
}

// Register enrolls the device and returns its identity and poll cadence.
func (c *Client) Register(ctx context.Context, cfg Config, osVersion, hardware string) (RegisterResponse, error) {
	var out RegisterResponse
	err := c.post(ctx, "/v1/enroll", map[string]any{
		"enrollment_token": cfg.EnrollmentToken,
		"hostname":         cfg.Hostname,
		"os_type":          cfg.OSType,
		"os_version":       osVersion,
		"hardware_summary": hardware,
	}, &out)
	return out, err
}

// Heartbeat checks in and collects any actions assigned since the last poll.
func (c *Client) Heartbeat(ctx context.Context, deviceID int64, status string) (HeartbeatResponse, error) {
	var out HeartbeatResponse
	err := c.post(ctx, "/v1/agent/heartbeat", map[string]any{
		"device_id": deviceID,
		"status":    status,
	}, &out)
	return out, err
}

// ReportResult posts an action's terminal outcome.
func (c *Client) ReportResult(ctx context.Context, actionID int64, status string, exitCode int, logs string) error {
	path := fmt.Sprintf("/v1/agent/actions/%d/result", actionID)
	return c.post(ctx, path, map[string]any{
		"status":    status,
		"exit_code": exitCode,
		"logs":      logs,
	}, nil)
}

func (c *Client) post(ctx context.Context, path string, payload any, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("post %s unexpected status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if dest == nil {
		_, err := io.Copy(io.Discard, resp.Body)
		return err
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

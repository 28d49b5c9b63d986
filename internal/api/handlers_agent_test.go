package api

import (
	"net/http"
	"testing"
	"time"

	"deployflow/internal/models"
)

func TestAgentLifecycleOverHTTP(t *testing.T) {
	srv, orm := newTestAPI(t)

	token := models.EnrollmentToken{Name: "lab", TokenValue: "tok-lab"}
	if err := orm.Create(&token).Error; err != nil {
		t.Fatalf("create token: %v", err)
	}

	// Enroll.
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/v1/enroll", map[string]any{
		"enrollment_token": "tok-lab",
		"hostname":         "lab-01",
		"os_type":          "ubuntu",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("enroll = %d, body %v", resp.StatusCode, body)
	}
	deviceID := int64(body["device_id"].(float64))
	if body["poll_interval_seconds"].(float64) != 30 {
		t.Errorf("poll_interval_seconds = %v, want 30", body["poll_interval_seconds"])
	}

	// Queue an action for the device.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/v1/devices/1/actions", map[string]any{
		"type":    models.ActionTypeBashInline,
		"payload": "uptime",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create action = %d, body %v", resp.StatusCode, body)
	}

	// Heartbeat picks it up.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/v1/agent/heartbeat", map[string]any{
		"device_id": deviceID,
		"status":    "online",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("heartbeat = %d, body %v", resp.StatusCode, body)
	}
	actions := body["actions"].([]any)
	if len(actions) != 1 {
		t.Fatalf("heartbeat delivered %d actions, want 1", len(actions))
	}
	actionID := int64(actions[0].(map[string]any)["id"].(float64))

	// Second heartbeat is empty: pickup is at-most-once.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/v1/agent/heartbeat", map[string]any{
		"device_id": deviceID,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second heartbeat = %d", resp.StatusCode)
	}
	if got := body["actions"].([]any); len(got) != 0 {
		t.Fatalf("second heartbeat delivered %d actions, want 0", len(got))
	}

	// Report the result.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/agent/actions/1/result", map[string]any{
		"status":    "succeeded",
		"exit_code": 0,
		"logs":      "load average: 0.01",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("report result = %d", resp.StatusCode)
	}

	var action models.Action
	if err := orm.First(&action, actionID).Error; err != nil {
		t.Fatalf("load action: %v", err)
	}
	if action.Status != models.ActionStatusSucceeded {
		t.Errorf("status = %q, want succeeded", action.Status)
	}
	if action.Payload == nil || *action.Payload != "uptime\nexit_code=0" {
		t.Errorf("payload = %v, want exit_code annotation", action.Payload)
	}
}

func TestEnrollRejectsBadTokens(t *testing.T) {
	srv, orm := newTestAPI(t)

	expired := time.Now().Add(-time.Hour)
	token := models.EnrollmentToken{Name: "old", TokenValue: "tok-old", ExpiresAt: &expired}
	if err := orm.Create(&token).Error; err != nil {
		t.Fatalf("create token: %v", err)
	}

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/enroll", map[string]any{
		"enrollment_token": "tok-unknown",
		"hostname":         "x",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unknown token = %d, want 401", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/enroll", map[string]any{
		"enrollment_token": "tok-old",
		"hostname":         "x",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expired token = %d, want 401", resp.StatusCode)
	}
}

func TestReportResultRejectsBadStatusOverHTTP(t *testing.T) {
	srv, orm := newTestAPI(t)

	device := models.Device{Hostname: "d1", Status: models.DeviceStatusOnline}
	if err := orm.Create(&device).Error; err != nil {
		t.Fatalf("create device: %v", err)
	}
	payload := "x"
	action := models.Action{DeviceID: device.ID, Type: models.ActionTypeBashInline, Payload: &payload, Status: models.ActionStatusPending}
	if err := orm.Create(&action).Error; err != nil {
		t.Fatalf("create action: %v", err)
	}

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/agent/actions/1/result", map[string]any{
		"status": "queued",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad status = %d, want 400", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/agent/actions/999/result", map[string]any{
		"status": "failed",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown action = %d, want 404", resp.StatusCode)
	}
}

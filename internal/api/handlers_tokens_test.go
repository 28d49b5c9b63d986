package api

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"deployflow/internal/models"
)

func TestTokenInstallScript(t *testing.T) {
	srv, orm := newTestAPI(t)

	token := models.EnrollmentToken{Name: "lab", TokenValue: "tok-lab"}
	if err := orm.Create(&token).Error; err != nil {
		t.Fatalf("create token: %v", err)
	}

	resp, err := srv.Client().Get(srv.URL + "/v1/tokens/1/install-script?os_type=ubuntu")
	if err != nil {
		t.Fatalf("get install script: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("expected text/plain, got %q", ct)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	script := string(body)
	if !strings.HasPrefix(script, "#!/bin/sh") {
		t.Fatalf("expected shell script:\n%s", script)
	}
	if !strings.Contains(script, "tok-lab") {
		t.Fatalf("token missing from script:\n%s", script)
	}
	// No ExternalURL configured, so the script points back at the
	// request host.
	if !strings.Contains(script, srv.URL) {
		t.Fatalf("expected %s in script:\n%s", srv.URL, script)
	}
}

func TestTokenInstallScriptDefaultsToWindows(t *testing.T) {
	srv, orm := newTestAPI(t)

	if err := orm.Create(&models.EnrollmentToken{Name: "lab", TokenValue: "tok-lab"}).Error; err != nil {
		t.Fatalf("create token: %v", err)
	}

	resp, err := srv.Client().Get(srv.URL + "/v1/tokens/1/install-script")
	if err != nil {
		t.Fatalf("get install script: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "ConvertTo-Json") {
		t.Fatalf("expected powershell script:\n%s", body)
	}
}

func TestTokenInstallScriptErrors(t *testing.T) {
	srv, orm := newTestAPI(t)

	resp, err := srv.Client().Get(srv.URL + "/v1/tokens/99/install-script")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown token, got %d", resp.StatusCode)
	}

	expired := time.Now().UTC().Add(-time.Hour)
	if err := orm.Create(&models.EnrollmentToken{
		Name:       "old",
		TokenValue: "tok-old",
		ExpiresAt:  &expired,
	}).Error; err != nil {
		t.Fatalf("create expired token: %v", err)
	}

	resp, err = srv.Client().Get(srv.URL + "/v1/tokens/1/install-script")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for expired token, got %d", resp.StatusCode)
	}

	resp, err = srv.Client().Get(srv.URL + "/v1/tokens/1/install-script?os_type=beos")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad os_type, got %d", resp.StatusCode)
	}
}

func TestTokenRoutesRequireAdminToken(t *testing.T) {
	srv, orm := newTestAPIWithConfig(t, Config{
		AgentPollInterval: 30 * time.Second,
		AdminToken:        "super-secret",
	})

	if err := orm.Create(&models.EnrollmentToken{Name: "lab", TokenValue: "tok-lab"}).Error; err != nil {
		t.Fatalf("create token: %v", err)
	}

	resp, err := srv.Client().Get(srv.URL + "/v1/tokens")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer token, got %d", resp.StatusCode)
	}

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/tokens", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer super-secret")
	resp, err = srv.Client().Do(req)
	if err != nil {
		t.Fatalf("get with token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with bearer token, got %d", resp.StatusCode)
	}

	// The gate covers token management only; agent endpoints stay open.
	resp, err = srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected open healthz, got %d", resp.StatusCode)
	}
}

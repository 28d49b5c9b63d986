package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"deployflow/internal/models"
)

func newTestAPI(t *testing.T) (*httptest.Server, *gorm.DB) {
	t.Helper()
	return newTestAPIWithConfig(t, Config{AgentPollInterval: 30 * time.Second})
}

func newTestAPIWithConfig(t *testing.T, cfg Config) (*httptest.Server, *gorm.DB) {
	t.Helper()

	orm, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := orm.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	// A second pooled connection would see a different in-memory database.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := orm.AutoMigrate(
		&models.Device{},
		&models.Script{},
		&models.SoftwarePackage{},
		&models.DeploymentProfile{},
		&models.ProfileTask{},
		&models.Action{},
		&models.EnrollmentToken{},
		&models.OSImage{},
		&models.AuditEntry{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	a, err := New(&Store{ORM: orm}, cfg)
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	routes, err := a.Routes()
	if err != nil {
		t.Fatalf("routes: %v", err)
	}

	srv := httptest.NewServer(routes)
	t.Cleanup(srv.Close)
	return srv, orm
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		decoded = nil
	}
	return resp, decoded
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /metrics = %d, want 200", resp.StatusCode)
	}
}

package fleet

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"

	"deployflow/internal/models"
)

func createAction(t *testing.T, orm *gorm.DB, deviceID int64, payload string) models.Action {
	t.Helper()
	action := models.Action{
		DeviceID: deviceID,
		Type:     models.ActionTypeBashInline,
		Payload:  ptr(payload),
		Status:   models.ActionStatusPending,
	}
	if err := orm.Create(&action).Error; err != nil {
		t.Fatalf("create action: %v", err)
	}
	return action
}

func TestHeartbeatDeliversPendingActions(t *testing.T) {
	svc, orm := newTestService(t, Options{})
	device := createDevice(t, orm, "web-01", "linux")

	a1 := createAction(t, orm, device.ID, "echo one")
	a2 := createAction(t, orm, device.ID, "echo two")
	a3 := createAction(t, orm, device.ID, "echo three")

	result, err := svc.Heartbeat(context.Background(), HeartbeatRequest{
		DeviceID:  device.ID,
		Status:    models.DeviceStatusOnline,
		OSVersion: "22.04",
	})
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if len(result.Actions) != 3 {
		t.Fatalf("delivered %d actions, want 3", len(result.Actions))
	}
	wantIDs := []int64{a1.ID, a2.ID, a3.ID}
	for i, action := range result.Actions {
		if action.ID != wantIDs[i] {
			t.Errorf("actions[%d].ID = %d, want %d", i, action.ID, wantIDs[i])
		}
	}
	if got := *result.Actions[0].Payload; got != "echo one" {
		t.Errorf("actions[0].Payload = %q, want %q", got, "echo one")
	}

	for _, action := range deviceActions(t, orm, device.ID) {
		if action.Status != models.ActionStatusRunning {
			t.Errorf("action %d status = %q, want running", action.ID, action.Status)
		}
		if action.StartedAt == nil {
			t.Errorf("action %d started_at not set", action.ID)
		}
	}

	var refreshed models.Device
	if err := orm.First(&refreshed, device.ID).Error; err != nil {
		t.Fatalf("reload device: %v", err)
	}
	if refreshed.OSVersion != "22.04" {
		t.Errorf("os_version = %q, want %q", refreshed.OSVersion, "22.04")
	}
	if refreshed.LastCheckIn == nil {
		t.Error("last_check_in not set")
	}
}

func TestHeartbeatPickupIsAtMostOnce(t *testing.T) {
	svc, orm := newTestService(t, Options{})
	device := createDevice(t, orm, "web-01", "linux")
	createAction(t, orm, device.ID, "echo once")

	first, err := svc.Heartbeat(context.Background(), HeartbeatRequest{DeviceID: device.ID})
	if err != nil {
		t.Fatalf("first heartbeat: %v", err)
	}
	if len(first.Actions) != 1 {
		t.Fatalf("first heartbeat delivered %d actions, want 1", len(first.Actions))
	}

	second, err := svc.Heartbeat(context.Background(), HeartbeatRequest{DeviceID: device.ID})
	if err != nil {
		t.Fatalf("second heartbeat: %v", err)
	}
	if len(second.Actions) != 0 {
		t.Fatalf("second heartbeat delivered %d actions, want 0", len(second.Actions))
	}
}

func TestHeartbeatUnknownDevice(t *testing.T) {
	svc, orm := newTestService(t, Options{})

	if _, err := svc.Heartbeat(context.Background(), HeartbeatRequest{DeviceID: 42}); !IsNotFound(err) {
		t.Fatalf("heartbeat against unknown device: got %v, want not-found", err)
	}

	deleted := createDevice(t, orm, "gone-01", "linux")
	if err := orm.Model(&deleted).Update("is_deleted", true).Error; err != nil {
		t.Fatalf("soft-delete device: %v", err)
	}
	if _, err := svc.Heartbeat(context.Background(), HeartbeatRequest{DeviceID: deleted.ID}); !IsNotFound(err) {
		t.Fatalf("heartbeat against deleted device: got %v, want not-found", err)
	}
}

func TestHeartbeatRedeliversStaleRunning(t *testing.T) {
	svc, orm := newTestService(t, Options{RequeueRunningAfter: 5 * time.Minute})
	device := createDevice(t, orm, "web-01", "linux")
	createAction(t, orm, device.ID, "echo stale")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	first, err := svc.Heartbeat(context.Background(), HeartbeatRequest{DeviceID: device.ID})
	if err != nil {
		t.Fatalf("first heartbeat: %v", err)
	}
	if len(first.Actions) != 1 {
		t.Fatalf("first heartbeat delivered %d actions, want 1", len(first.Actions))
	}

	// Inside the window: nothing is stale yet.
	svc.now = func() time.Time { return base.Add(2 * time.Minute) }
	quiet, err := svc.Heartbeat(context.Background(), HeartbeatRequest{DeviceID: device.ID})
	if err != nil {
		t.Fatalf("second heartbeat: %v", err)
	}
	if len(quiet.Actions) != 0 {
		t.Fatalf("heartbeat inside window delivered %d actions, want 0", len(quiet.Actions))
	}

	// Past the window the running action comes back, still running.
	svc.now = func() time.Time { return base.Add(10 * time.Minute) }
	stale, err := svc.Heartbeat(context.Background(), HeartbeatRequest{DeviceID: device.ID})
	if err != nil {
		t.Fatalf("third heartbeat: %v", err)
	}
	if len(stale.Actions) != 1 {
		t.Fatalf("heartbeat past window delivered %d actions, want 1", len(stale.Actions))
	}

	actions := deviceActions(t, orm, device.ID)
	if actions[0].Status != models.ActionStatusRunning {
		t.Errorf("redelivered action status = %q, want running", actions[0].Status)
	}
	if !actions[0].StartedAt.Equal(base.Add(10 * time.Minute)) {
		t.Errorf("started_at = %v, want refreshed to %v", actions[0].StartedAt, base.Add(10*time.Minute))
	}

	// started_at was refreshed, so the very next heartbeat stays quiet.
	again, err := svc.Heartbeat(context.Background(), HeartbeatRequest{DeviceID: device.ID})
	if err != nil {
		t.Fatalf("fourth heartbeat: %v", err)
	}
	if len(again.Actions) != 0 {
		t.Fatalf("heartbeat after redelivery delivered %d actions, want 0", len(again.Actions))
	}
}

func TestReportResultSucceeded(t *testing.T) {
	svc, orm := newTestService(t, Options{})
	device := createDevice(t, orm, "web-01", "linux")
	action := createAction(t, orm, device.ID, "echo done")

	if _, err := svc.Heartbeat(context.Background(), HeartbeatRequest{DeviceID: device.ID}); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	err := svc.ReportResult(context.Background(), action.ID, ResultRequest{
		Status:   models.ActionStatusSucceeded,
		ExitCode: ptr(0),
		Logs:     ptr("ok"),
	})
	if err != nil {
		t.Fatalf("report result: %v", err)
	}

	var got models.Action
	if err := orm.First(&got, action.ID).Error; err != nil {
		t.Fatalf("reload action: %v", err)
	}
	if got.Status != models.ActionStatusSucceeded {
		t.Errorf("status = %q, want succeeded", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	if got.Logs == nil || *got.Logs != "ok" {
		t.Errorf("logs = %v, want %q", got.Logs, "ok")
	}
	if want := "echo done\nexit_code=0"; got.Payload == nil || *got.Payload != want {
		t.Errorf("payload = %v, want %q", got.Payload, want)
	}
}

func TestReportResultRejectsNonTerminalStatus(t *testing.T) {
	svc, orm := newTestService(t, Options{})
	device := createDevice(t, orm, "web-01", "linux")
	action := createAction(t, orm, device.ID, "echo still")

	err := svc.ReportResult(context.Background(), action.ID, ResultRequest{Status: "queued"})
	if !IsValidation(err) {
		t.Fatalf("report with status=queued: got %v, want validation error", err)
	}

	var got models.Action
	if err := orm.First(&got, action.ID).Error; err != nil {
		t.Fatalf("reload action: %v", err)
	}
	if got.Status != models.ActionStatusPending {
		t.Errorf("status = %q, want pending (unchanged)", got.Status)
	}
	if got.CompletedAt != nil {
		t.Error("completed_at set on rejected report")
	}
}

func TestReportResultUnknownAction(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	err := svc.ReportResult(context.Background(), 99, ResultRequest{Status: models.ActionStatusFailed})
	if !IsNotFound(err) {
		t.Fatalf("report against unknown action: got %v, want not-found", err)
	}
}

func TestReportResultAcceptsResubmission(t *testing.T) {
	svc, orm := newTestService(t, Options{})
	device := createDevice(t, orm, "web-01", "linux")
	action := createAction(t, orm, device.ID, "echo retry")

	err := svc.ReportResult(context.Background(), action.ID, ResultRequest{Status: models.ActionStatusFailed, ExitCode: ptr(1)})
	if err != nil {
		t.Fatalf("first report: %v", err)
	}
	// An agent retrying after a lost response must not be rejected.
	err = svc.ReportResult(context.Background(), action.ID, ResultRequest{Status: models.ActionStatusSucceeded, ExitCode: ptr(0)})
	if err != nil {
		t.Fatalf("second report: %v", err)
	}

	var got models.Action
	if err := orm.First(&got, action.ID).Error; err != nil {
		t.Fatalf("reload action: %v", err)
	}
	if got.Status != models.ActionStatusSucceeded {
		t.Errorf("status = %q, want succeeded (last report wins)", got.Status)
	}
}

func TestCreateDeviceActionInline(t *testing.T) {
	svc, orm := newTestService(t, Options{})
	device := createDevice(t, orm, "web-01", "linux")

	created, err := svc.CreateDeviceAction(context.Background(), device.ID, CreateActionRequest{
		Type:    models.ActionTypeBashInline,
		Payload: ptr("uname -a"),
	})
	if err != nil {
		t.Fatalf("create action: %v", err)
	}
	if created.Status != models.ActionStatusPending {
		t.Errorf("status = %q, want pending", created.Status)
	}
	if created.Payload == nil || *created.Payload != "uname -a" {
		t.Errorf("payload = %v, want %q", created.Payload, "uname -a")
	}
}

func TestCreateDeviceActionFreezesScriptContent(t *testing.T) {
	svc, orm := newTestService(t, Options{})
	device := createDevice(t, orm, "win-01", "windows")
	script := createScript(t, orm, "restart-spooler", models.ScriptLanguagePowershell, "windows", "Restart-Service Spooler")

	created, err := svc.CreateDeviceAction(context.Background(), device.ID, CreateActionRequest{
		Type:     models.ActionTypePowershellScript,
		ScriptID: ptr(script.ID),
	})
	if err != nil {
		t.Fatalf("create action: %v", err)
	}
	if created.Payload == nil || *created.Payload != "Restart-Service Spooler" {
		t.Errorf("payload = %v, want script content", created.Payload)
	}
	if created.ScriptID == nil || *created.ScriptID != script.ID {
		t.Errorf("script_id = %v, want %d", created.ScriptID, script.ID)
	}
}

func TestCreateDeviceActionValidation(t *testing.T) {
	svc, orm := newTestService(t, Options{})
	device := createDevice(t, orm, "win-01", "windows")
	bash := createScript(t, orm, "cleanup", models.ScriptLanguageBash, "", "rm -rf /tmp/cache")
	linuxOnly := createScript(t, orm, "tune", models.ScriptLanguagePowershell, "linux", "Set-Thing")

	cases := []struct {
		name string
		req  CreateActionRequest
		want func(error) bool
	}{
		{"missing type", CreateActionRequest{Payload: ptr("x")}, IsValidation},
		{"no payload or script", CreateActionRequest{Type: models.ActionTypeBashInline}, IsValidation},
		{"unknown script", CreateActionRequest{Type: models.ActionTypeBashScript, ScriptID: ptr(int64(404))}, IsNotFound},
		{"language mismatch", CreateActionRequest{Type: models.ActionTypePowershellScript, ScriptID: ptr(bash.ID)}, IsValidation},
		{"os mismatch", CreateActionRequest{Type: models.ActionTypePowershellScript, ScriptID: ptr(linuxOnly.ID)}, IsValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateDeviceAction(context.Background(), device.ID, tc.req); !tc.want(err) {
				t.Fatalf("got %v", err)
			}
		})
	}

	if _, err := svc.CreateDeviceAction(context.Background(), 77, CreateActionRequest{
		Type:    models.ActionTypeBashInline,
		Payload: ptr("x"),
	}); !IsNotFound(err) {
		t.Fatalf("create on unknown device: got %v, want not-found", err)
	}
}

package fleet

import (
	"context"
	"testing"

	"deployflow/internal/models"
)

func TestApplyProfileFanOut(t *testing.T) {
	svc, orm := newTestService(t, Options{})
	ctx := context.Background()

	script := createScript(t, orm, "setup", models.ScriptLanguageBash, "", "echo setup")
	profile := createProfile(t, orm, "baseline", "", false)
	createTask(t, orm, models.ProfileTask{
		ProfileID: profile.ID, OrderIndex: 0,
		ActionType: models.ActionTypeBashScript, ScriptID: ptr(script.ID),
	})
	createTask(t, orm, models.ProfileTask{
		ProfileID: profile.ID, OrderIndex: 1,
		ActionType: models.ActionTypeSoftwareInstall,
	})

	d1 := createDevice(t, orm, "web-01", "ubuntu")
	d2 := createDevice(t, orm, "web-02", "ubuntu")

	result, err := svc.ApplyProfile(ctx, profile.ID, []int64{d1.ID, d2.ID})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.Created != 4 {
		t.Fatalf("created = %d, want 4", result.Created)
	}
	if len(result.Skipped) != 0 {
		t.Fatalf("skipped = %v, want none", result.Skipped)
	}

	for _, device := range []models.Device{d1, d2} {
		actions := deviceActions(t, orm, device.ID)
		if len(actions) != 2 {
			t.Fatalf("device %d actions = %d, want 2", device.ID, len(actions))
		}
		for _, action := range actions {
			if action.Status != models.ActionStatusPending {
				t.Errorf("action %d status = %q, want pending", action.ID, action.Status)
			}
		}
		if actions[0].Payload == nil || *actions[0].Payload != "echo setup" {
			t.Errorf("script action payload = %v, want frozen script content", actions[0].Payload)
		}
		if actions[1].Payload != nil {
			t.Errorf("software action payload = %q, want nil", *actions[1].Payload)
		}
	}
}

func TestApplyProfileOSMismatchSkipsDevice(t *testing.T) {
	svc, orm := newTestService(t, Options{})

	profile := createProfile(t, orm, "win-baseline", "windows", false)
	createTask(t, orm, models.ProfileTask{ProfileID: profile.ID, ActionType: models.ActionTypeSoftwareInstall})
	device := createDevice(t, orm, "db-01", "ubuntu")

	result, err := svc.ApplyProfile(context.Background(), profile.ID, []int64{device.ID})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.Created != 0 {
		t.Fatalf("created = %d, want 0", result.Created)
	}
	if len(result.Skipped) != 1 || result.Skipped[0].Reason != SkipDeviceOSMismatch {
		t.Fatalf("skipped = %+v, want one os-mismatch skip", result.Skipped)
	}
	if actions := deviceActions(t, orm, device.ID); len(actions) != 0 {
		t.Fatalf("actions = %d, want 0", len(actions))
	}
}

func TestApplyProfileStructuralErrors(t *testing.T) {
	svc, orm := newTestService(t, Options{})
	ctx := context.Background()

	profile := createProfile(t, orm, "empty", "", false)
	device := createDevice(t, orm, "host-a", "ubuntu")

	if _, err := svc.ApplyProfile(ctx, profile.ID, nil); !IsValidation(err) {
		t.Errorf("empty device list: err = %v, want validation error", err)
	}
	if _, err := svc.ApplyProfile(ctx, 9999, []int64{device.ID}); !IsNotFound(err) {
		t.Errorf("missing profile: err = %v, want not found", err)
	}
	if _, err := svc.ApplyProfile(ctx, profile.ID, []int64{device.ID}); !IsValidation(err) {
		t.Errorf("profile without tasks: err = %v, want validation error", err)
	}
}

func TestApplyProfileSkipRules(t *testing.T) {
	svc, orm := newTestService(t, Options{})
	ctx := context.Background()

	bashScript := createScript(t, orm, "tune", models.ScriptLanguageBash, "", "sysctl -p")
	winScript := createScript(t, orm, "winonly", models.ScriptLanguagePowershell, "windows", "Get-Item")
	device := createDevice(t, orm, "app-01", "ubuntu")

	profile := createProfile(t, orm, "mixed", "", false)
	// Missing script reference.
	createTask(t, orm, models.ProfileTask{
		ProfileID: profile.ID, OrderIndex: 0,
		ActionType: models.ActionTypeBashScript, ScriptID: ptr(int64(9999)),
	})
	// PowerShell action bound to a bash script.
	createTask(t, orm, models.ProfileTask{
		ProfileID: profile.ID, OrderIndex: 1,
		ActionType: models.ActionTypePowershellScript, ScriptID: ptr(bashScript.ID),
	})
	// Script targets windows, device is ubuntu.
	createTask(t, orm, models.ProfileTask{
		ProfileID: profile.ID, OrderIndex: 2,
		ActionType: models.ActionTypePowershellScript, ScriptID: ptr(winScript.ID),
	})
	// Inline action without a script to source the payload from.
	createTask(t, orm, models.ProfileTask{
		ProfileID: profile.ID, OrderIndex: 3,
		ActionType: models.ActionTypeBashInline,
	})
	// Valid task: payload frozen from the script.
	createTask(t, orm, models.ProfileTask{
		ProfileID: profile.ID, OrderIndex: 4,
		ActionType: models.ActionTypeBashScript, ScriptID: ptr(bashScript.ID),
	})

	result, err := svc.ApplyProfile(ctx, profile.ID, []int64{device.ID})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.Created != 1 {
		t.Fatalf("created = %d, want 1", result.Created)
	}

	wantReasons := []string{SkipScriptMissing, SkipScriptLanguage, SkipScriptOSMismatch, SkipInlineNoPayload}
	if len(result.Skipped) != len(wantReasons) {
		t.Fatalf("skipped = %+v, want %d entries", result.Skipped, len(wantReasons))
	}
	for i, want := range wantReasons {
		if result.Skipped[i].Reason != want {
			t.Errorf("skip[%d].Reason = %q, want %q", i, result.Skipped[i].Reason, want)
		}
	}

	actions := deviceActions(t, orm, device.ID)
	if len(actions) != 1 || actions[0].Payload == nil || *actions[0].Payload != "sysctl -p" {
		t.Fatalf("actions = %+v, want single action with script payload", actions)
	}
}

func TestApplyProfileSkipsDeletedDevice(t *testing.T) {
	svc, orm := newTestService(t, Options{})

	profile := createProfile(t, orm, "base", "", false)
	createTask(t, orm, models.ProfileTask{ProfileID: profile.ID, ActionType: models.ActionTypeSoftwareInstall})

	gone := createDevice(t, orm, "gone-01", "ubuntu")
	if err := orm.Model(&gone).Update("is_deleted", true).Error; err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	live := createDevice(t, orm, "live-01", "ubuntu")

	result, err := svc.ApplyProfile(context.Background(), profile.ID, []int64{gone.ID, 4242, live.ID})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.Created != 1 {
		t.Fatalf("created = %d, want 1", result.Created)
	}
	if len(result.Skipped) != 2 {
		t.Fatalf("skipped = %+v, want 2 device skips", result.Skipped)
	}
	for _, skip := range result.Skipped {
		if skip.Reason != SkipDeviceMissing {
			t.Errorf("skip reason = %q, want %q", skip.Reason, SkipDeviceMissing)
		}
	}
}

func TestApplyProfileTaskOrder(t *testing.T) {
	svc, orm := newTestService(t, Options{})

	scriptA := createScript(t, orm, "a", models.ScriptLanguageBash, "", "a")
	scriptB := createScript(t, orm, "b", models.ScriptLanguageBash, "", "b")
	scriptC := createScript(t, orm, "c", models.ScriptLanguageBash, "", "c")

	profile := createProfile(t, orm, "ordered", "", false)
	// Created out of order; order_index then id must win.
	tB := createTask(t, orm, models.ProfileTask{
		ProfileID: profile.ID, OrderIndex: 1,
		ActionType: models.ActionTypeBashScript, ScriptID: ptr(scriptB.ID),
	})
	tC := createTask(t, orm, models.ProfileTask{
		ProfileID: profile.ID, OrderIndex: 1,
		ActionType: models.ActionTypeBashScript, ScriptID: ptr(scriptC.ID),
	})
	createTask(t, orm, models.ProfileTask{
		ProfileID: profile.ID, OrderIndex: 0,
		ActionType: models.ActionTypeBashScript, ScriptID: ptr(scriptA.ID),
	})
	if tB.ID >= tC.ID {
		t.Fatalf("test setup assumes tB.ID < tC.ID")
	}

	device := createDevice(t, orm, "ord-01", "ubuntu")
	if _, err := svc.ApplyProfile(context.Background(), profile.ID, []int64{device.ID}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	actions := deviceActions(t, orm, device.ID)
	var got []string
	for _, action := range actions {
		got = append(got, *action.Payload)
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("payloads = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("payload order = %v, want %v", got, want)
		}
	}
}

func TestApplyProfilePayloadFrozenAtApplyTime(t *testing.T) {
	svc, orm := newTestService(t, Options{})
	ctx := context.Background()

	script := createScript(t, orm, "patch", models.ScriptLanguageBash, "", "v1")
	profile := createProfile(t, orm, "patching", "", false)
	createTask(t, orm, models.ProfileTask{
		ProfileID: profile.ID, ActionType: models.ActionTypeBashScript, ScriptID: ptr(script.ID),
	})
	device := createDevice(t, orm, "patch-01", "ubuntu")

	// Edit after task creation, before apply: apply-time content wins.
	if err := orm.Model(&script).Update("content", "v2").Error; err != nil {
		t.Fatalf("update script: %v", err)
	}
	if _, err := svc.ApplyProfile(ctx, profile.ID, []int64{device.ID}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// Edit after apply: must not change the created action.
	if err := orm.Model(&script).Update("content", "v3").Error; err != nil {
		t.Fatalf("update script: %v", err)
	}

	actions := deviceActions(t, orm, device.ID)
	if len(actions) != 1 || actions[0].Payload == nil || *actions[0].Payload != "v2" {
		t.Fatalf("payload = %v, want frozen %q", actions[0].Payload, "v2")
	}
}

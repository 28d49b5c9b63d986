package fleet

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"deployflow/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
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

	return orm
}

func newTestService(t *testing.T, opts Options) (*Service, *gorm.DB) {
	t.Helper()
	orm := newTestDB(t)
	svc, err := New(orm, opts)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, orm
}

func createDevice(t *testing.T, orm *gorm.DB, hostname, osType string) models.Device {
	t.Helper()
	device := models.Device{Hostname: hostname, OSType: osType, Status: models.DeviceStatusOnline}
	if err := orm.Create(&device).Error; err != nil {
		t.Fatalf("create device: %v", err)
	}
	return device
}

func createScript(t *testing.T, orm *gorm.DB, name, language, targetOS, content string) models.Script {
	t.Helper()
	script := models.Script{Name: name, Language: language, TargetOSType: targetOS, Content: content}
	if err := orm.Create(&script).Error; err != nil {
		t.Fatalf("create script: %v", err)
	}
	return script
}

func createProfile(t *testing.T, orm *gorm.DB, name, targetOS string, isTemplate bool) models.DeploymentProfile {
	t.Helper()
	profile := models.DeploymentProfile{Name: name, TargetOSType: targetOS, IsTemplate: isTemplate}
	if err := orm.Create(&profile).Error; err != nil {
		t.Fatalf("create profile: %v", err)
	}
	return profile
}

func createTask(t *testing.T, orm *gorm.DB, task models.ProfileTask) models.ProfileTask {
	t.Helper()
	if task.Name == "" {
		task.Name = "task"
	}
	if err := orm.Create(&task).Error; err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func deviceActions(t *testing.T, orm *gorm.DB, deviceID int64) []models.Action {
	t.Helper()
	var actions []models.Action
	if err := orm.Where("device_id = ?", deviceID).Order("id ASC").Find(&actions).Error; err != nil {
		t.Fatalf("list actions: %v", err)
	}
	return actions
}

func ptr[T any](v T) *T { return &v }

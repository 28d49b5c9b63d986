package fleet

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"deployflow/internal/models"
)

func createSoftware(t *testing.T, orm *gorm.DB, name string) models.SoftwarePackage {
	t.Helper()
	pkg := models.SoftwarePackage{
		Name:          name,
		InstallerType: "winget",
		SourceType:    "url",
	}
	if err := orm.Create(&pkg).Error; err != nil {
		t.Fatalf("create software: %v", err)
	}
	return pkg
}

func TestDeleteSoftwarePackage(t *testing.T) {
	svc, orm := newTestService(t, Options{})
	pkg := createSoftware(t, orm, "7zip")

	if err := svc.DeleteSoftwarePackage(context.Background(), pkg.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	err := orm.First(&models.SoftwarePackage{}, pkg.ID).Error
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("package still present after delete: %v", err)
	}

	if err := svc.DeleteSoftwarePackage(context.Background(), pkg.ID); !IsNotFound(err) {
		t.Fatalf("deleting again: got %v, want not-found", err)
	}
}

func TestDeleteSoftwarePackageReferencedByTask(t *testing.T) {
	svc, orm := newTestService(t, Options{})
	pkg := createSoftware(t, orm, "7zip")
	profile := createProfile(t, orm, "win-prod", "windows", false)
	createTask(t, orm, models.ProfileTask{
		ProfileID:  profile.ID,
		ActionType: models.ActionTypeSoftwareInstall,
		SoftwareID: ptr(pkg.ID),
	})

	if err := svc.DeleteSoftwarePackage(context.Background(), pkg.ID); !IsConflict(err) {
		t.Fatalf("delete referenced package: got %v, want conflict error", err)
	}

	var count int64
	if err := orm.Model(&models.SoftwarePackage{}).Where("id = ?", pkg.ID).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Error("package removed despite conflict")
	}
}

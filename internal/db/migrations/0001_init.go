package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

// The structs below freeze the schema at the time this migration was
// written; the live API models may evolve independently.

type Device struct {
	ID              int64      `gorm:"type:bigserial;primaryKey"`
	Hostname        string     `gorm:"type:text;uniqueIndex;not null"`
	ProfileID       *int64     `gorm:"type:bigint;index"`
	Status          string     `gorm:"type:text;not null;default:unknown"`
	OSType          string     `gorm:"type:text;index"`
	OSVersion       string     `gorm:"type:text"`
	HardwareSummary string     `gorm:"type:text"`
	LastCheckIn     *time.Time `gorm:"type:timestamptz"`
	IsDeleted       bool       `gorm:"not null;default:false"`
	CreatedAt       time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (Device) TableName() string { return "devices" }

type Script struct {
	ID           int64     `gorm:"type:bigserial;primaryKey"`
	Name         string    `gorm:"type:text;uniqueIndex;not null"`
	Description  string    `gorm:"type:text"`
	Language     string    `gorm:"type:text;not null;default:powershell"`
	TargetOSType string    `gorm:"type:text"`
	Content      string    `gorm:"type:text;not null"`
	CreatedAt    time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt    time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (Script) TableName() string { return "scripts" }

type SoftwarePackage struct {
	ID            int64     `gorm:"type:bigserial;primaryKey"`
	Name          string    `gorm:"type:text;uniqueIndex;not null"`
	Slug          *string   `gorm:"type:text;uniqueIndex"`
	Version       string    `gorm:"type:text"`
	InstallerType string    `gorm:"type:text;not null"`
	SourceType    string    `gorm:"type:text;not null"`
	Source        string    `gorm:"type:text"`
	InstallArgs   string    `gorm:"type:text"`
	UninstallArgs string    `gorm:"type:text"`
	TargetOSType  string    `gorm:"type:text;index"`
	CreatedAt     time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt     time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (SoftwarePackage) TableName() string { return "software_packages" }

type DeploymentProfile struct {
	ID           int64     `gorm:"type:bigserial;primaryKey"`
	Name         string    `gorm:"type:text;uniqueIndex;not null"`
	Description  string    `gorm:"type:text"`
	TargetOSType string    `gorm:"type:text;index"`
	IsTemplate   bool      `gorm:"not null;default:false"`
	CreatedAt    time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt    time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (DeploymentProfile) TableName() string { return "deployment_profiles" }

type ProfileTask struct {
	ID              int64             `gorm:"type:bigserial;primaryKey"`
	ProfileID       int64             `gorm:"type:bigint;not null;index"`
	Name            string            `gorm:"type:text;not null"`
	Description     string            `gorm:"type:text"`
	OrderIndex      int               `gorm:"not null;default:0"`
	ActionType      string            `gorm:"type:text;not null;default:powershell_inline"`
	ScriptID        *int64            `gorm:"type:bigint"`
	SoftwareID      *int64            `gorm:"type:bigint"`
	ContinueOnError bool              `gorm:"not null;default:true"`
	CreatedAt       time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt       time.Time         `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
	Profile         DeploymentProfile `gorm:"foreignKey:ProfileID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (ProfileTask) TableName() string { return "profile_tasks" }

type Action struct {
	ID          int64      `gorm:"type:bigserial;primaryKey"`
	DeviceID    int64      `gorm:"type:bigint;not null;index"`
	Type        string     `gorm:"type:text;not null"`
	Payload     *string    `gorm:"type:text"`
	ScriptID    *int64     `gorm:"type:bigint"`
	Status      string     `gorm:"type:text;not null;default:pending;index"`
	Logs        *string    `gorm:"type:text"`
	StartedAt   *time.Time `gorm:"type:timestamptz"`
	CompletedAt *time.Time `gorm:"type:timestamptz"`
	CreatedAt   time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	Device      Device     `gorm:"foreignKey:DeviceID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (Action) TableName() string { return "actions" }

type EnrollmentToken struct {
	ID              int64                      `gorm:"type:bigserial;primaryKey"`
	Name            string                     `gorm:"type:text;not null"`
	TokenValue      string                     `gorm:"type:text;uniqueIndex;not null"`
	Description     string                     `gorm:"type:text"`
	ExpiresAt       *time.Time                 `gorm:"type:timestamptz"`
	AllowedProfiles datatypes.JSONSlice[int64] `gorm:"type:jsonb"`
	CreatedAt       time.Time                  `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (EnrollmentToken) TableName() string { return "enrollment_tokens" }

type OSImage struct {
	ID          int64     `gorm:"type:bigserial;primaryKey"`
	Name        string    `gorm:"type:text;not null"`
	Version     string    `gorm:"type:text"`
	StorageRef  string    `gorm:"type:text;not null"`
	Description string    `gorm:"type:text"`
	Checksum    string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt   time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (OSImage) TableName() string { return "os_images" }

type Audit struct {
	ID      int64             `gorm:"type:bigserial;primaryKey"`
	Actor   string            `gorm:"type:text;not null"`
	Action  string            `gorm:"type:text;not null"`
	Obj     string            `gorm:"type:text"`
	Details datatypes.JSONMap `gorm:"type:jsonb"`
	At      time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (Audit) TableName() string { return "audit" }

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).AutoMigrate(
		&Device{},
		&Script{},
		&SoftwarePackage{},
		&DeploymentProfile{},
		&ProfileTask{},
		&Action{},
		&EnrollmentToken{},
		&OSImage{},
		&Audit{},
	); err != nil {
		return err
	}

	m := gormDB.WithContext(ctx).Migrator()
	if err := m.CreateConstraint(&ProfileTask{}, "Profile"); err != nil {
		return err
	}
	if err := m.CreateConstraint(&Action{}, "Device"); err != nil {
		return err
	}

	return nil
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).Migrator().DropTable(
		&Audit{},
		&OSImage{},
		&EnrollmentToken{},
		&Action{},
		&ProfileTask{},
		&DeploymentProfile{},
		&SoftwarePackage{},
		&Script{},
		&Device{},
	); err != nil {
		return err
	}

	return nil
}

package api

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"

	"deployflow/internal/bus"
	fs3 "deployflow/internal/s3"
)

// Store holds external dependencies required by the API layer. DB is
// the raw pgx pool used for reporting queries; ORM backs everything
// else. S3 and Bus are optional and their features degrade when nil.
type Store struct {
	DB  *pgxpool.Pool
	ORM *gorm.DB
	S3  *fs3.Client
	Bus *bus.Bus
}

package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/dovira/amlgraph-backend/internal/platform/envutil"
	"github.com/dovira/amlgraph-backend/internal/platform/logger"
	"github.com/dovira/amlgraph-backend/internal/types"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewPostgresService connects from env. POSTGRES_HOST unset means the audit
// store is disabled; callers get (nil, nil) and skip auditing.
func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	host := envutil.String("POSTGRES_HOST", "")
	if host == "" {
		return nil, nil
	}
	port := envutil.String("POSTGRES_PORT", "5432")
	user := envutil.String("POSTGRES_USER", "postgres")
	password := envutil.String("POSTGRES_PASSWORD", "")
	name := envutil.String("POSTGRES_NAME", "amlgraph")

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)

	serviceLog.Info("connecting to postgres", "host", host, "db", name)
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	return &PostgresService{db: gdb, log: serviceLog}, nil
}

func (s *PostgresService) DB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

func (s *PostgresService) AutoMigrateAll() error {
	if s == nil {
		return nil
	}
	s.log.Info("migrating audit tables")
	if err := s.db.AutoMigrate(&types.IngestRun{}); err != nil {
		return fmt.Errorf("migrate audit tables: %w", err)
	}
	return nil
}

package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dovira/amlgraph-backend/internal/platform/logger"
	"github.com/dovira/amlgraph-backend/internal/types"
)

type IngestRunRepo interface {
	Create(ctx context.Context, tx *gorm.DB, run *types.IngestRun) (*types.IngestRun, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.IngestRun, error)
	ListRecent(ctx context.Context, tx *gorm.DB, limit int) ([]*types.IngestRun, error)
	CountByStatus(ctx context.Context, tx *gorm.DB) (map[string]int64, error)
}

type ingestRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIngestRunRepo(db *gorm.DB, baseLog *logger.Logger) IngestRunRepo {
	return &ingestRunRepo{
		db:  db,
		log: baseLog.With("repo", "IngestRunRepo"),
	}
}

func (r *ingestRunRepo) Create(ctx context.Context, tx *gorm.DB, run *types.IngestRun) (*types.IngestRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if err := transaction.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

func (r *ingestRunRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.IngestRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out types.IngestRun
	if err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *ingestRunRepo) ListRecent(ctx context.Context, tx *gorm.DB, limit int) ([]*types.IngestRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var out []*types.IngestRun
	if err := transaction.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ingestRunRepo) CountByStatus(ctx context.Context, tx *gorm.DB) (map[string]int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	if err := transaction.WithContext(ctx).
		Model(&types.IngestRun{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, rw := range rows {
		out[rw.Status] = rw.N
	}
	return out, nil
}

package repos

import (
	"context"

	"gorm.io/gorm"

	"github.com/csyeqing/rag-platform/internal/pkg/logger"
	"github.com/csyeqing/rag-platform/internal/types"
)

type AuditLogRepo interface {
	Create(ctx context.Context, tx *gorm.DB, logs []*types.AuditLog) ([]*types.AuditLog, error)
}

type auditLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAuditLogRepo(db *gorm.DB, baseLog *logger.Logger) AuditLogRepo {
	repoLog := baseLog.With("repo", "AuditLogRepo")
	return &auditLogRepo{db: db, log: repoLog}
}

func (r *auditLogRepo) Create(ctx context.Context, tx *gorm.DB, logs []*types.AuditLog) ([]*types.AuditLog, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(logs) == 0 {
		return []*types.AuditLog{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

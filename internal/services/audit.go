package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/csyeqing/rag-platform/internal/pkg/logger"
	"github.com/csyeqing/rag-platform/internal/repos"
	"github.com/csyeqing/rag-platform/internal/types"
)

// AuditService records security-relevant actions. Writes are best effort; an
// audit failure never fails the request it describes.
type AuditService interface {
	Record(ctx context.Context, userID *uuid.UUID, action, resourceType, resourceID string, metadata map[string]any)
}

type auditService struct {
	auditRepo repos.AuditLogRepo
	log       *logger.Logger
}

func NewAuditService(auditRepo repos.AuditLogRepo, baseLog *logger.Logger) AuditService {
	return &auditService{
		auditRepo: auditRepo,
		log:       baseLog.With("service", "AuditService"),
	}
}

func (s *auditService) Record(ctx context.Context, userID *uuid.UUID, action, resourceType, resourceID string, metadata map[string]any) {
	entry := &types.AuditLog{
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
	if len(metadata) > 0 {
		if raw, err := json.Marshal(metadata); err == nil {
			entry.Metadata = datatypes.JSON(raw)
		}
	}
	if _, err := s.auditRepo.Create(ctx, nil, []*types.AuditLog{entry}); err != nil {
		s.log.Warn("failed to write audit log", "action", action, "error", err)
	}
}

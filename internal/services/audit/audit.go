// Package audit implements the generic field-level change log shared by all
// entity types. Entries are write-once and never validated against the domain:
// callers record whatever old/new values make sense for them.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"veritrace-system/internal/apperr"
	"veritrace-system/internal/database/models"
	"veritrace-system/internal/utils"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(db *gorm.DB, log *zap.Logger) *Service {
	return &Service{db: db, log: log}
}

// LogChange appends one audit entry and returns its id. It never inspects the
// values; only a store failure can make it error.
func (s *Service) LogChange(ctx context.Context, entityType, entityID, fieldChanged, oldValue, newValue, changedBy string) (string, error) {
	entry := models.AuditLog{
		ID:           utils.NewID("log"),
		EntityType:   entityType,
		EntityID:     entityID,
		FieldChanged: fieldChanged,
		OldValue:     oldValue,
		NewValue:     newValue,
		ChangedBy:    changedBy,
		Timestamp:    time.Now(),
	}

	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return "", apperr.E(apperr.ErrStoreUnavailable, "failed to log audit entry for %s %s", entityType, entityID)
	}
	return entry.ID, nil
}

// EntityTrail returns all entries for one entity, newest first. Timestamp
// ties break on descending id so insertion order stays the implicit timeline.
func (s *Service) EntityTrail(ctx context.Context, entityType, entityID string) ([]models.AuditLog, error) {
	var entries []models.AuditLog
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("timestamp DESC").Order("id DESC").
		Find(&entries).Error
	if err != nil {
		return nil, apperr.E(apperr.ErrStoreUnavailable, "failed to retrieve audit trail for %s %s", entityType, entityID)
	}
	return entries, nil
}

// SearchFilter holds the optional, conjunctive search criteria. The date
// range is inclusive on both ends when both are set and open-ended otherwise.
type SearchFilter struct {
	EntityType string
	EntityID   string
	ChangedBy  string
	FromDate   *time.Time
	ToDate     *time.Time
	Limit      int
	Offset     int
}

func (s *Service) Search(ctx context.Context, f SearchFilter) ([]models.AuditLog, error) {
	query := s.db.WithContext(ctx).Model(&models.AuditLog{})

	if f.EntityType != "" {
		query = query.Where("entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		query = query.Where("entity_id = ?", f.EntityID)
	}
	if f.ChangedBy != "" {
		query = query.Where("changed_by = ?", f.ChangedBy)
	}
	if f.FromDate != nil {
		query = query.Where("timestamp >= ?", *f.FromDate)
	}
	if f.ToDate != nil {
		query = query.Where("timestamp <= ?", *f.ToDate)
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entries []models.AuditLog
	err := query.Order("timestamp DESC").Order("id DESC").
		Offset(offset).Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, apperr.E(apperr.ErrStoreUnavailable, "failed to search audit trail")
	}
	return entries, nil
}

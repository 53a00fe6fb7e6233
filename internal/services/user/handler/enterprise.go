package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"veritrace-system/internal/apperr"
	"veritrace-system/internal/database/models"
	"veritrace-system/internal/gateway/middleware"
)

// Enterprise profile management. A member can read and update only their own
// enterprise; the directory listing is readable by any authenticated account.

func (s *UserHandler) GetEnterprise(ctx context.Context, enterpriseID string) (*models.Enterprise, error) {
	var enterprise models.Enterprise
	err := s.db.WithContext(ctx).Where("id = ?", enterpriseID).First(&enterprise).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.E(apperr.ErrNotFound, "Enterprise not found")
		}
		return nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
	}
	return &enterprise, nil
}

var enterpriseUpdatableFields = map[string]bool{
	"enterprise_name": true,
	"email":           true,
	"industry":        true,
	"address":         true,
}

// UpdateEnterprise applies the allowed subset of updates and writes one audit
// entry per field that actually changed, the same discipline the product
// catalog uses.
func (s *UserHandler) UpdateEnterprise(ctx context.Context, enterpriseID, userID string, updates map[string]interface{}) (*models.Enterprise, error) {
	enterprise, err := s.GetEnterprise(ctx, enterpriseID)
	if err != nil {
		return nil, err
	}

	filtered := map[string]interface{}{}
	for field, value := range updates {
		if !enterpriseUpdatableFields[field] {
			continue
		}
		filtered[field] = value
	}
	if len(filtered) == 0 {
		return enterprise, nil
	}

	if name, ok := filtered["enterprise_name"].(string); ok && name != enterprise.EnterpriseName {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Enterprise{}).
			Where("enterprise_name = ? AND id <> ?", name, enterpriseID).
			Count(&count).Error; err != nil {
			return nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
		}
		if count > 0 {
			return nil, apperr.E(apperr.ErrValidation, "Enterprise name already registered")
		}
	}

	before := snapshotEnterpriseFields(enterprise)

	if err := s.db.WithContext(ctx).Model(&models.Enterprise{}).
		Where("id = ?", enterpriseID).
		Updates(filtered).Error; err != nil {
		return nil, apperr.E(apperr.ErrStoreUnavailable, "Failed to update enterprise")
	}

	updated, err := s.GetEnterprise(ctx, enterpriseID)
	if err != nil {
		return nil, err
	}

	after := snapshotEnterpriseFields(updated)
	for field := range filtered {
		if before[field] == after[field] {
			continue
		}
		if _, err := s.audit.LogChange(ctx, "enterprise", enterpriseID, field, before[field], after[field], userID); err != nil {
			s.log.Warn("failed to audit enterprise change",
				zap.String("enterprise_id", enterpriseID), zap.String("field", field), zap.Error(err))
		}
	}
	return updated, nil
}

// ListEnterprises returns the tenant directory, newest first.
func (s *UserHandler) ListEnterprises(ctx context.Context) ([]models.Enterprise, error) {
	enterprises := []models.Enterprise{}
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&enterprises).Error
	if err != nil {
		return nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
	}
	return enterprises, nil
}

func snapshotEnterpriseFields(e *models.Enterprise) map[string]string {
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	return map[string]string{
		"enterprise_name": e.EnterpriseName,
		"email":           e.Email,
		"industry":        deref(e.Industry),
		"address":         deref(e.Address),
	}
}

// --- HTTP endpoints ---

func (s *UserHandler) enterpriseActor(c *gin.Context) (enterpriseID, userID string, ok bool) {
	enterpriseID = c.GetString(middleware.CtxEnterpriseID)
	userID = c.GetString(middleware.CtxUserID)
	if enterpriseID == "" {
		s.error(c, http.StatusBadRequest, "User not associated with an enterprise")
		return "", "", false
	}
	return enterpriseID, userID, true
}

// GET /enterprise/profile
func (s *UserHandler) GetProfile(c *gin.Context) {
	enterpriseID, _, ok := s.enterpriseActor(c)
	if !ok {
		return
	}

	enterprise, err := s.GetEnterprise(c.Request.Context(), enterpriseID)
	if err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}
	s.success(c, enterprise)
}

// PUT /enterprise/profile
func (s *UserHandler) PutProfile(c *gin.Context) {
	var updates map[string]interface{}
	if err := c.ShouldBindJSON(&updates); err != nil {
		s.error(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	enterpriseID, userID, ok := s.enterpriseActor(c)
	if !ok {
		return
	}

	enterprise, err := s.UpdateEnterprise(c.Request.Context(), enterpriseID, userID, updates)
	if err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}
	s.success(c, enterprise)
}

// GET /enterprise/list
func (s *UserHandler) GetEnterpriseList(c *gin.Context) {
	enterprises, err := s.ListEnterprises(c.Request.Context())
	if err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}
	s.success(c, enterprises)
}

// Package handler implements the inventory ledger: non-negative stock levels
// per (product, location, enterprise) key, with exactly one audit entry per
// mutation written in the same transaction.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"veritrace-system/internal/apperr"
	"veritrace-system/internal/database/models"
	"veritrace-system/internal/gateway/middleware"
	"veritrace-system/internal/utils"
)

type InventoryHandler struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewInventoryHandler(db *gorm.DB, log *zap.Logger) *InventoryHandler {
	return &InventoryHandler{db: db, log: log}
}

type AdjustRequest struct {
	ProductID        string          `json:"product_id" binding:"required"`
	Location         string          `json:"location" binding:"required"`
	ChangeInQuantity decimal.Decimal `json:"change_in_quantity"`
	Operation        string          `json:"operation" binding:"required"`
	Notes            *string         `json:"notes,omitempty"`
}

type AdjustResult struct {
	Inventory   models.InventoryItem `json:"inventory"`
	AuditLogID  string               `json:"audit_log_id"`
	ProductName string               `json:"product_name"`
}

// The quantity update is a compare-and-swap on the previously read value, so
// two concurrent adjustments to the same key cannot lose a write. Conflicts
// retry the whole transaction.
const adjustAttempts = 3

var errWriteConflict = errors.New("inventory write conflict")

// AdjustInventory applies one add/remove mutation and its paired audit entry
// atomically. The quantity never goes negative: a remove that exceeds current
// stock is rejected with no state change.
func (s *InventoryHandler) AdjustInventory(ctx context.Context, req AdjustRequest, enterpriseID, userID string) (*AdjustResult, error) {
	if req.Operation != models.InventoryOpAdd && req.Operation != models.InventoryOpRemove {
		return nil, apperr.E(apperr.ErrValidation, "Invalid operation %q, must be 'add' or 'remove'", req.Operation)
	}
	if !req.ChangeInQuantity.IsPositive() {
		return nil, apperr.E(apperr.ErrValidation, "change_in_quantity must be greater than 0")
	}

	var product models.Product
	if err := s.db.WithContext(ctx).
		Where("id = ? AND enterprise_id = ?", req.ProductID, enterpriseID).
		First(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.E(apperr.ErrNotFound, "Product not found")
		}
		return nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
	}

	var result *AdjustResult
	for attempt := 0; attempt < adjustAttempts; attempt++ {
		res, err := s.tryAdjust(ctx, req, enterpriseID, userID)
		if errors.Is(err, errWriteConflict) {
			s.log.Warn("inventory write conflict, retrying",
				zap.String("product_id", req.ProductID),
				zap.String("location", req.Location),
				zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, err
		}
		result = res
		break
	}
	if result == nil {
		return nil, apperr.E(apperr.ErrStoreUnavailable, "inventory update for product %s at %s kept conflicting, try again", req.ProductID, req.Location)
	}

	result.ProductName = product.ProductName
	return result, nil
}

func (s *InventoryHandler) tryAdjust(ctx context.Context, req AdjustRequest, enterpriseID, userID string) (*AdjustResult, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	now := time.Now()
	delta := req.ChangeInQuantity

	var item models.InventoryItem
	err := tx.Where("product_id = ? AND location = ? AND enterprise_id = ?",
		req.ProductID, req.Location, enterpriseID).First(&item).Error

	var previous decimal.Decimal
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if req.Operation == models.InventoryOpRemove {
			tx.Rollback()
			return nil, apperr.E(apperr.ErrNotFound, "Cannot remove from non-existent inventory. Please add inventory first.")
		}

		previous = decimal.Zero
		item = models.InventoryItem{
			ID:           utils.NewID("inv"),
			ProductID:    req.ProductID,
			Location:     req.Location,
			EnterpriseID: enterpriseID,
			Quantity:     delta,
			LastUpdated:  now,
		}
		if err := tx.Create(&item).Error; err != nil {
			// Unique index violation here means another request created the
			// row between our read and write.
			tx.Rollback()
			return nil, errWriteConflict
		}

	case err != nil:
		tx.Rollback()
		return nil, apperr.E(apperr.ErrStoreUnavailable, "database error")

	default:
		previous = item.Quantity

		var next decimal.Decimal
		if req.Operation == models.InventoryOpAdd {
			next = previous.Add(delta)
		} else {
			if previous.LessThan(delta) {
				tx.Rollback()
				return nil, apperr.E(apperr.ErrInsufficientStock,
					"Not enough inventory. Current: %s, Attempting to remove: %s", previous, delta)
			}
			next = previous.Sub(delta)
		}

		res := tx.Model(&models.InventoryItem{}).
			Where("id = ? AND quantity = ?", item.ID, previous).
			Updates(map[string]interface{}{"quantity": next, "last_updated": now})
		if res.Error != nil {
			tx.Rollback()
			return nil, apperr.E(apperr.ErrStoreUnavailable, "Failed to update inventory")
		}
		if res.RowsAffected == 0 {
			tx.Rollback()
			return nil, errWriteConflict
		}
		item.Quantity = next
		item.LastUpdated = now
	}

	entry := models.InventoryAuditLog{
		ID:               utils.NewID("log"),
		InventoryID:      item.ID,
		ProductID:        req.ProductID,
		EnterpriseID:     enterpriseID,
		Location:         req.Location,
		PreviousQuantity: previous,
		NewQuantity:      item.Quantity,
		ChangeAmount:     delta,
		Operation:        req.Operation,
		Timestamp:        now,
		UserID:           userID,
		Notes:            req.Notes,
	}
	if err := tx.Create(&entry).Error; err != nil {
		tx.Rollback()
		return nil, apperr.E(apperr.ErrStoreUnavailable, "Failed to create inventory audit record")
	}

	if err := tx.Commit().Error; err != nil {
		return nil, apperr.E(apperr.ErrStoreUnavailable, "Failed to commit inventory update")
	}

	return &AdjustResult{Inventory: item, AuditLogID: entry.ID}, nil
}

// GetInventory returns current stock for a product, optionally filtered by
// location. An empty result is valid, not an error.
func (s *InventoryHandler) GetInventory(ctx context.Context, productID, enterpriseID, location string) ([]models.InventoryItem, error) {
	var product models.Product
	if err := s.db.WithContext(ctx).
		Where("id = ? AND enterprise_id = ?", productID, enterpriseID).
		First(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.E(apperr.ErrNotFound, "Product not found")
		}
		return nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
	}

	query := s.db.WithContext(ctx).
		Where("product_id = ? AND enterprise_id = ?", productID, enterpriseID)
	if location != "" {
		query = query.Where("location = ?", location)
	}

	items := []models.InventoryItem{}
	if err := query.Find(&items).Error; err != nil {
		return nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
	}
	return items, nil
}

// AuditTrail returns inventory audit entries for a product newest-first.
func (s *InventoryHandler) AuditTrail(ctx context.Context, productID, enterpriseID, location string, limit, offset int) ([]models.InventoryAuditLog, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := s.db.WithContext(ctx).
		Where("product_id = ? AND enterprise_id = ?", productID, enterpriseID)
	if location != "" {
		query = query.Where("location = ?", location)
	}

	entries := []models.InventoryAuditLog{}
	err := query.Order("timestamp DESC").Order("id DESC").
		Offset(offset).Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
	}
	return entries, nil
}

// --- HTTP endpoints ---

func (s *InventoryHandler) success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

func (s *InventoryHandler) error(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"success": false,
		"error":   message,
	})
}

func enterpriseFromContext(c *gin.Context) (string, bool) {
	enterpriseID := c.GetString(middleware.CtxEnterpriseID)
	return enterpriseID, enterpriseID != ""
}

// PATCH /inventory/update
func (s *InventoryHandler) Update(c *gin.Context) {
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.error(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	enterpriseID, ok := enterpriseFromContext(c)
	if !ok {
		s.error(c, http.StatusBadRequest, "User not associated with an enterprise")
		return
	}
	userID := c.GetString(middleware.CtxUserID)

	result, err := s.AdjustInventory(c.Request.Context(), req, enterpriseID, userID)
	if err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}

	s.success(c, gin.H{
		"inventory":    result.Inventory,
		"audit_log_id": result.AuditLogID,
		"product_name": result.ProductName,
		"message":      "Inventory " + req.Operation + "ed successfully",
	})
}

// GET /inventory/:product_id
func (s *InventoryHandler) Get(c *gin.Context) {
	enterpriseID, ok := enterpriseFromContext(c)
	if !ok {
		s.error(c, http.StatusBadRequest, "User not associated with an enterprise")
		return
	}

	items, err := s.GetInventory(c.Request.Context(), c.Param("product_id"), enterpriseID, c.Query("location"))
	if err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}
	s.success(c, items)
}

// GET /inventory/audit/:product_id
func (s *InventoryHandler) GetAuditTrail(c *gin.Context) {
	enterpriseID, ok := enterpriseFromContext(c)
	if !ok {
		s.error(c, http.StatusBadRequest, "User not associated with an enterprise")
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	entries, err := s.AuditTrail(c.Request.Context(), c.Param("product_id"), enterpriseID, c.Query("location"), limit, offset)
	if err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}
	s.success(c, entries)
}

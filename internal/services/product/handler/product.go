// Package handler implements the product catalog. Products are unique per
// (enterprise, name); updates are field-filtered and every changed field is
// recorded in the audit trail.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"veritrace-system/internal/apperr"
	"veritrace-system/internal/database/models"
	"veritrace-system/internal/gateway/middleware"
	"veritrace-system/internal/services/audit"
	"veritrace-system/internal/utils"
)

const (
	cacheKeyProductList = "products:list:%s"
	cacheTTL            = 5 * time.Minute
)

type ProductHandler struct {
	db    *gorm.DB
	cache *redis.Client
	audit *audit.Service
	log   *zap.Logger
}

func NewProductHandler(db *gorm.DB, cache *redis.Client, auditSvc *audit.Service, log *zap.Logger) *ProductHandler {
	return &ProductHandler{db: db, cache: cache, audit: auditSvc, log: log}
}

type AddProductRequest struct {
	ProductName string              `json:"product_name" binding:"required"`
	ProductType string              `json:"product_type"`
	Unit        string              `json:"unit"`
	Description *string             `json:"description"`
	SKU         *string             `json:"sku"`
	Barcode     *string             `json:"barcode"`
	Attributes  models.AttributeMap `json:"attributes"`
}

// AddProduct creates a product in the caller's enterprise catalog. Duplicate
// names within the enterprise are rejected.
func (s *ProductHandler) AddProduct(ctx context.Context, req AddProductRequest, enterpriseID string) (*models.Product, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Product{}).
		Where("enterprise_id = ? AND product_name = ?", enterpriseID, req.ProductName).
		Count(&count).Error; err != nil {
		return nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
	}
	if count > 0 {
		return nil, apperr.E(apperr.ErrValidation, "Product '%s' already exists", req.ProductName)
	}

	product := models.Product{
		ID:           utils.NewID("prod"),
		EnterpriseID: enterpriseID,
		ProductName:  req.ProductName,
		ProductType:  req.ProductType,
		Unit:         req.Unit,
		Description:  req.Description,
		SKU:          req.SKU,
		Barcode:      req.Barcode,
		Attributes:   req.Attributes,
		CreationDate: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&product).Error; err != nil {
		return nil, apperr.E(apperr.ErrStoreUnavailable, "Failed to create product")
	}

	s.invalidateListCache(ctx, enterpriseID)
	return &product, nil
}

// ListProducts returns the enterprise catalog, served from cache when warm.
func (s *ProductHandler) ListProducts(ctx context.Context, enterpriseID string) ([]models.Product, error) {
	key := fmt.Sprintf(cacheKeyProductList, enterpriseID)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, key).Result(); err == nil {
			var products []models.Product
			if jerr := json.Unmarshal([]byte(cached), &products); jerr == nil {
				return products, nil
			}
		}
	}

	products := []models.Product{}
	err := s.db.WithContext(ctx).
		Where("enterprise_id = ?", enterpriseID).
		Order("creation_date DESC").
		Find(&products).Error
	if err != nil {
		return nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
	}

	if s.cache != nil {
		if data, jerr := json.Marshal(products); jerr == nil {
			if err := s.cache.Set(ctx, key, data, cacheTTL).Err(); err != nil {
				s.log.Warn("failed to cache product list", zap.Error(err))
			}
		}
	}
	return products, nil
}

func (s *ProductHandler) GetProduct(ctx context.Context, productID, enterpriseID string) (*models.Product, error) {
	var product models.Product
	err := s.db.WithContext(ctx).
		Where("id = ? AND enterprise_id = ?", productID, enterpriseID).
		First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.E(apperr.ErrNotFound, "Product not found")
		}
		return nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
	}
	return &product, nil
}

// Fields a catalog update may never touch.
var protectedFields = map[string]bool{
	"id":            true,
	"enterprise_id": true,
	"creation_date": true,
}

var updatableFields = map[string]bool{
	"product_name": true,
	"product_type": true,
	"unit":         true,
	"description":  true,
	"sku":          true,
	"barcode":      true,
	"attributes":   true,
}

// UpdateProduct applies the allowed subset of updates and writes one audit
// entry per field that actually changed.
func (s *ProductHandler) UpdateProduct(ctx context.Context, productID, enterpriseID, userID string, updates map[string]interface{}) (*models.Product, error) {
	product, err := s.GetProduct(ctx, productID, enterpriseID)
	if err != nil {
		return nil, err
	}

	filtered := map[string]interface{}{}
	for field, value := range updates {
		if protectedFields[field] || !updatableFields[field] {
			continue
		}
		filtered[field] = value
	}
	if len(filtered) == 0 {
		return product, nil
	}

	if name, ok := filtered["product_name"].(string); ok && name != product.ProductName {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Product{}).
			Where("enterprise_id = ? AND product_name = ? AND id <> ?", enterpriseID, name, productID).
			Count(&count).Error; err != nil {
			return nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
		}
		if count > 0 {
			return nil, apperr.E(apperr.ErrValidation, "Product '%s' already exists", name)
		}
	}

	before := snapshotFields(product)

	if err := s.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ?", productID).
		Updates(filtered).Error; err != nil {
		return nil, apperr.E(apperr.ErrStoreUnavailable, "Failed to update product")
	}

	updated, err := s.GetProduct(ctx, productID, enterpriseID)
	if err != nil {
		return nil, err
	}

	after := snapshotFields(updated)
	for field := range filtered {
		if before[field] == after[field] {
			continue
		}
		if _, err := s.audit.LogChange(ctx, "product", productID, field, before[field], after[field], userID); err != nil {
			s.log.Warn("failed to audit product change",
				zap.String("product_id", productID), zap.String("field", field), zap.Error(err))
		}
	}

	s.invalidateListCache(ctx, enterpriseID)
	return updated, nil
}

func (s *ProductHandler) DeleteProduct(ctx context.Context, productID, enterpriseID, userID string) error {
	product, err := s.GetProduct(ctx, productID, enterpriseID)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Delete(&models.Product{}, "id = ?", productID).Error; err != nil {
		return apperr.E(apperr.ErrStoreUnavailable, "Failed to delete product")
	}

	if _, err := s.audit.LogChange(ctx, "product", productID, "deleted", product.ProductName, "", userID); err != nil {
		s.log.Warn("failed to audit product deletion",
			zap.String("product_id", productID), zap.Error(err))
	}

	s.invalidateListCache(ctx, enterpriseID)
	return nil
}

func snapshotFields(p *models.Product) map[string]string {
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	attrs := ""
	if len(p.Attributes) > 0 {
		if b, err := json.Marshal(p.Attributes); err == nil {
			attrs = string(b)
		}
	}
	return map[string]string{
		"product_name": p.ProductName,
		"product_type": p.ProductType,
		"unit":         p.Unit,
		"description":  deref(p.Description),
		"sku":          deref(p.SKU),
		"barcode":      deref(p.Barcode),
		"attributes":   attrs,
	}
}

func (s *ProductHandler) invalidateListCache(ctx context.Context, enterpriseID string) {
	if s.cache == nil {
		return
	}
	key := fmt.Sprintf(cacheKeyProductList, enterpriseID)
	if err := s.cache.Del(ctx, key).Err(); err != nil {
		s.log.Warn("failed to invalidate product cache", zap.String("key", key), zap.Error(err))
	}
}

// --- HTTP endpoints ---

func (s *ProductHandler) success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

func (s *ProductHandler) error(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"success": false,
		"error":   message,
	})
}

func (s *ProductHandler) actor(c *gin.Context) (enterpriseID, userID string, ok bool) {
	enterpriseID = c.GetString(middleware.CtxEnterpriseID)
	userID = c.GetString(middleware.CtxUserID)
	if enterpriseID == "" {
		s.error(c, http.StatusBadRequest, "User not associated with an enterprise")
		return "", "", false
	}
	return enterpriseID, userID, true
}

// POST /products/add
func (s *ProductHandler) Add(c *gin.Context) {
	var req AddProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.error(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	enterpriseID, _, ok := s.actor(c)
	if !ok {
		return
	}

	product, err := s.AddProduct(c.Request.Context(), req, enterpriseID)
	if err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}
	s.success(c, product)
}

// GET /products
func (s *ProductHandler) List(c *gin.Context) {
	enterpriseID, _, ok := s.actor(c)
	if !ok {
		return
	}

	products, err := s.ListProducts(c.Request.Context(), enterpriseID)
	if err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}
	s.success(c, products)
}

// GET /products/:product_id
func (s *ProductHandler) Get(c *gin.Context) {
	enterpriseID, _, ok := s.actor(c)
	if !ok {
		return
	}

	product, err := s.GetProduct(c.Request.Context(), c.Param("product_id"), enterpriseID)
	if err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}
	s.success(c, product)
}

// PUT /products/:product_id
func (s *ProductHandler) Put(c *gin.Context) {
	var updates map[string]interface{}
	if err := c.ShouldBindJSON(&updates); err != nil {
		s.error(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	enterpriseID, userID, ok := s.actor(c)
	if !ok {
		return
	}

	product, err := s.UpdateProduct(c.Request.Context(), c.Param("product_id"), enterpriseID, userID, updates)
	if err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}
	s.success(c, product)
}

// DELETE /products/:product_id
func (s *ProductHandler) Delete(c *gin.Context) {
	enterpriseID, userID, ok := s.actor(c)
	if !ok {
		return
	}

	if err := s.DeleteProduct(c.Request.Context(), c.Param("product_id"), enterpriseID, userID); err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}
	s.success(c, gin.H{"message": "Product deleted successfully"})
}

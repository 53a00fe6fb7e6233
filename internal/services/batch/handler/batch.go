// Package handler implements batch creation and lifecycle. Creating a batch
// is all-or-nothing: the product must exist, the document CID must be valid,
// and the ledger commitment must succeed before anything is persisted. There
// is no batch without both attestation handles.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"veritrace-system/internal/apperr"
	"veritrace-system/internal/database/models"
	"veritrace-system/internal/gateway/middleware"
	"veritrace-system/internal/services/attestation"
	"veritrace-system/internal/services/audit"
	"veritrace-system/internal/utils"
)

type BatchHandler struct {
	db            *gorm.DB
	ledger        attestation.Ledger
	audit         *audit.Service
	log           *zap.Logger
	gatewayURL    string
	verifyBaseURL string
}

func NewBatchHandler(db *gorm.DB, ledger attestation.Ledger, auditSvc *audit.Service, log *zap.Logger, gatewayURL, verifyBaseURL string) *BatchHandler {
	return &BatchHandler{
		db:            db,
		ledger:        ledger,
		audit:         auditSvc,
		log:           log,
		gatewayURL:    gatewayURL,
		verifyBaseURL: verifyBaseURL,
	}
}

type CreateRequest struct {
	ProductID       string          `json:"product_id" binding:"required"`
	BatchNumber     string          `json:"batch_number"`
	ProductionDate  *time.Time      `json:"production_date"`
	ExpiryDate      *time.Time      `json:"expiry_date"`
	InitialQuantity decimal.Decimal `json:"initial_quantity"`
	BatchNotes      *string         `json:"batch_notes"`
	DocumentCID     string          `json:"document_cid"`
}

type CreateResult struct {
	BatchID         string `json:"batch_id"`
	BatchNumber     string `json:"batch_number"`
	DocumentCID     string `json:"document_cid"`
	LedgerTxHash    string `json:"ledger_tx_hash"`
	QRCodeURL       string `json:"qr_code_url"`
	VerificationURL string `json:"verification_url"`
}

// CreateBatch runs the commit protocol: validate product, validate
// attestation, commit to the ledger, persist. A failure at any step aborts
// the whole operation with nothing written.
func (s *BatchHandler) CreateBatch(ctx context.Context, req CreateRequest, enterpriseID, userID string) (*CreateResult, error) {
	var product models.Product
	if err := s.db.WithContext(ctx).
		Where("id = ? AND enterprise_id = ?", req.ProductID, enterpriseID).
		First(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.E(apperr.ErrNotFound, "Product not found")
		}
		return nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
	}

	if req.DocumentCID == "" {
		return nil, apperr.E(apperr.ErrInvalidAttestation, "Document CID is required for batch creation")
	}
	if !attestation.ValidCID(req.DocumentCID) {
		return nil, apperr.E(apperr.ErrInvalidAttestation, "Invalid document CID format. Must start with 'Qm' or 'bafy'")
	}
	if req.InitialQuantity.IsNegative() {
		return nil, apperr.E(apperr.ErrValidation, "initial_quantity cannot be negative")
	}

	batchID := utils.NewID("batch")
	now := time.Now()

	batchNumber := req.BatchNumber
	if batchNumber == "" {
		batchNumber = s.nextBatchNumber(ctx, &product, now)
	}

	txHash, err := s.ledger.Commit(ctx, map[string]string{
		"batch_id":     batchID,
		"product_id":   req.ProductID,
		"document_cid": req.DocumentCID,
		"timestamp":    now.Format(time.RFC3339Nano),
	})
	if err != nil || txHash == "" {
		return nil, apperr.E(apperr.ErrCommitmentFailed, "Ledger registration is required but failed: %v", err)
	}

	productionDate := now
	if req.ProductionDate != nil {
		productionDate = *req.ProductionDate
	}

	batch := models.Batch{
		ID:              batchID,
		BatchNumber:     batchNumber,
		ProductID:       req.ProductID,
		EnterpriseID:    enterpriseID,
		ProductionDate:  productionDate,
		ExpiryDate:      req.ExpiryDate,
		InitialQuantity: req.InitialQuantity,
		CurrentQuantity: req.InitialQuantity,
		Status:          models.BatchStatusProduced,
		BatchNotes:      req.BatchNotes,
		DocumentCID:     req.DocumentCID,
		LedgerTxHash:    txHash,
		QRCodeURL:       attestation.ViewLink(s.gatewayURL, req.DocumentCID),
		VerificationURL: fmt.Sprintf("%s/%s", s.verifyBaseURL, batchID),
		CreationDate:    now,
	}

	if err := s.db.WithContext(ctx).Create(&batch).Error; err != nil {
		return nil, apperr.E(apperr.ErrStoreUnavailable, "Failed to create batch")
	}

	return &CreateResult{
		BatchID:         batchID,
		BatchNumber:     batchNumber,
		DocumentCID:     batch.DocumentCID,
		LedgerTxHash:    batch.LedgerTxHash,
		QRCodeURL:       batch.QRCodeURL,
		VerificationURL: batch.VerificationURL,
	}, nil
}

// nextBatchNumber builds "{product_code}-{YYMMDD}-{seq:03d}" where seq is one
// past the highest sequence of the product's latest batch. Parse failures and
// missing history both default to 1.
func (s *BatchHandler) nextBatchNumber(ctx context.Context, product *models.Product, now time.Time) string {
	sequence := 1

	var latest models.Batch
	err := s.db.WithContext(ctx).
		Where("product_id = ? AND enterprise_id = ?", product.ID, product.EnterpriseID).
		Order("creation_date DESC").
		First(&latest).Error
	if err == nil {
		parts := strings.Split(latest.BatchNumber, "-")
		if last, perr := strconv.Atoi(parts[len(parts)-1]); perr == nil {
			sequence = last + 1
		}
	}

	productCode := "PROD"
	if product.SKU != nil && *product.SKU != "" {
		productCode = *product.SKU
	}

	return fmt.Sprintf("%s-%s-%03d", productCode, now.Format("060102"), sequence)
}

// ListBatches returns an enterprise's batches newest-first with optional
// product and status filters.
func (s *BatchHandler) ListBatches(ctx context.Context, enterpriseID, productID, status string, limit, offset int) ([]models.Batch, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := s.db.WithContext(ctx).Where("enterprise_id = ?", enterpriseID)
	if productID != "" {
		query = query.Where("product_id = ?", productID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}

	batches := []models.Batch{}
	err := query.Order("creation_date DESC").Offset(offset).Limit(limit).Find(&batches).Error
	if err != nil {
		return nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
	}
	return batches, nil
}

func (s *BatchHandler) GetBatch(ctx context.Context, batchID, enterpriseID string) (*models.Batch, error) {
	var batch models.Batch
	err := s.db.WithContext(ctx).
		Where("id = ? AND enterprise_id = ?", batchID, enterpriseID).
		First(&batch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.E(apperr.ErrNotFound, "Batch not found")
		}
		return nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
	}
	return &batch, nil
}

var validStatuses = map[string]bool{
	models.BatchStatusProduced:  true,
	models.BatchStatusInStorage: true,
	models.BatchStatusShipped:   true,
	models.BatchStatusReceived:  true,
	models.BatchStatusSold:      true,
	models.BatchStatusRecalled:  true,
	models.BatchStatusExpired:   true,
}

// UpdateStatus sets the batch status directly and records the change in the
// generic audit trail.
func (s *BatchHandler) UpdateStatus(ctx context.Context, batchID, status, enterpriseID, userID string) error {
	if !validStatuses[status] {
		return apperr.E(apperr.ErrValidation, "Invalid status %q", status)
	}

	batch, err := s.GetBatch(ctx, batchID, enterpriseID)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Model(&models.Batch{}).
		Where("id = ?", batchID).
		Update("status", status).Error; err != nil {
		return apperr.E(apperr.ErrStoreUnavailable, "Failed to update batch status")
	}

	if _, err := s.audit.LogChange(ctx, "batch", batchID, "status", batch.Status, status, userID); err != nil {
		s.log.Warn("failed to audit batch status change",
			zap.String("batch_id", batchID), zap.Error(err))
	}
	return nil
}

// UpdateQuantity sets the batch current quantity directly. Negative
// quantities are rejected.
func (s *BatchHandler) UpdateQuantity(ctx context.Context, batchID string, quantity decimal.Decimal, enterpriseID, userID string) error {
	if quantity.IsNegative() {
		return apperr.E(apperr.ErrValidation, "Quantity cannot be negative")
	}

	batch, err := s.GetBatch(ctx, batchID, enterpriseID)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Model(&models.Batch{}).
		Where("id = ?", batchID).
		Update("current_quantity", quantity).Error; err != nil {
		return apperr.E(apperr.ErrStoreUnavailable, "Failed to update batch quantity")
	}

	if _, err := s.audit.LogChange(ctx, "batch", batchID, "current_quantity",
		batch.CurrentQuantity.String(), quantity.String(), userID); err != nil {
		s.log.Warn("failed to audit batch quantity change",
			zap.String("batch_id", batchID), zap.Error(err))
	}
	return nil
}

// --- HTTP endpoints ---

func (s *BatchHandler) success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

func (s *BatchHandler) error(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"success": false,
		"error":   message,
	})
}

func (s *BatchHandler) actor(c *gin.Context) (enterpriseID, userID string, ok bool) {
	enterpriseID = c.GetString(middleware.CtxEnterpriseID)
	userID = c.GetString(middleware.CtxUserID)
	if enterpriseID == "" {
		s.error(c, http.StatusBadRequest, "User not associated with an enterprise")
		return "", "", false
	}
	return enterpriseID, userID, true
}

// POST /batches/create
func (s *BatchHandler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.error(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	enterpriseID, userID, ok := s.actor(c)
	if !ok {
		return
	}

	result, err := s.CreateBatch(c.Request.Context(), req, enterpriseID, userID)
	if err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}
	s.success(c, result)
}

// GET /batches
func (s *BatchHandler) List(c *gin.Context) {
	enterpriseID, _, ok := s.actor(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	batches, err := s.ListBatches(c.Request.Context(), enterpriseID, c.Query("product_id"), c.Query("status"), limit, offset)
	if err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}
	s.success(c, batches)
}

// GET /batches/:batch_id
func (s *BatchHandler) Get(c *gin.Context) {
	enterpriseID, _, ok := s.actor(c)
	if !ok {
		return
	}

	batch, err := s.GetBatch(c.Request.Context(), c.Param("batch_id"), enterpriseID)
	if err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}
	s.success(c, batch)
}

// PUT /batches/:batch_id/status
func (s *BatchHandler) PutStatus(c *gin.Context) {
	var body struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		s.error(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	enterpriseID, userID, ok := s.actor(c)
	if !ok {
		return
	}

	if err := s.UpdateStatus(c.Request.Context(), c.Param("batch_id"), body.Status, enterpriseID, userID); err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}
	s.success(c, gin.H{"message": "Batch status updated to " + body.Status})
}

// PUT /batches/:batch_id/quantity
func (s *BatchHandler) PutQuantity(c *gin.Context) {
	var body struct {
		Quantity decimal.Decimal `json:"quantity"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		s.error(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	enterpriseID, userID, ok := s.actor(c)
	if !ok {
		return
	}

	if err := s.UpdateQuantity(c.Request.Context(), c.Param("batch_id"), body.Quantity, enterpriseID, userID); err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}
	s.success(c, gin.H{"message": "Batch quantity updated to " + body.Quantity.String()})
}

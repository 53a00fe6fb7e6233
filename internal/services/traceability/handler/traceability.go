// Package handler implements the traceability event chain. Events follow the
// same commit protocol as batches (valid CID, then ledger commit, then
// persist); the derived batch status update afterwards is best effort and
// never fails the event.
package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"veritrace-system/internal/apperr"
	"veritrace-system/internal/database/models"
	"veritrace-system/internal/gateway/middleware"
	"veritrace-system/internal/services/attestation"
	"veritrace-system/internal/utils"
)

type TraceabilityHandler struct {
	db     *gorm.DB
	docs   attestation.DocumentStore
	ledger attestation.Ledger
	log    *zap.Logger
}

func NewTraceabilityHandler(db *gorm.DB, docs attestation.DocumentStore, ledger attestation.Ledger, log *zap.Logger) *TraceabilityHandler {
	return &TraceabilityHandler{db: db, docs: docs, ledger: ledger, log: log}
}

var validEventTypes = map[string]bool{
	models.EventTypeProduced:  true,
	models.EventTypeStored:    true,
	models.EventTypeShipped:   true,
	models.EventTypeReceived:  true,
	models.EventTypeSold:      true,
	models.EventTypeRecalled:  true,
	models.EventTypeInspected: true,
}

// statusForEvent maps an event type to the batch status it implies. Only the
// four movement events transition the batch; everything else (produced,
// recalled, inspected) records the event and leaves the status alone. Recall
// is an explicit batch-status decision, not an event side effect.
var statusForEvent = map[string]string{
	models.EventTypeStored:   models.BatchStatusInStorage,
	models.EventTypeShipped:  models.BatchStatusShipped,
	models.EventTypeReceived: models.BatchStatusReceived,
	models.EventTypeSold:     models.BatchStatusSold,
}

type CreateEventRequest struct {
	BatchID     string     `json:"batch_id" binding:"required"`
	EventType   string     `json:"event_type" binding:"required"`
	Timestamp   *time.Time `json:"timestamp"`
	Location    string     `json:"location" binding:"required"`
	Latitude    *float64   `json:"latitude"`
	Longitude   *float64   `json:"longitude"`
	Operator    *string    `json:"operator"`
	Temperature *float64   `json:"temperature"`
	Humidity    *float64   `json:"humidity"`
	Notes       *string    `json:"notes"`
	DocumentCID string     `json:"document_cid"`
}

// CreateEvent validates the batch and attestation, commits the event to the
// ledger, persists it, then tries to move the batch status.
func (s *TraceabilityHandler) CreateEvent(ctx context.Context, req CreateEventRequest, enterpriseID string) (*models.TraceEvent, error) {
	if !validEventTypes[req.EventType] {
		return nil, apperr.E(apperr.ErrValidation, "Invalid event type %q", req.EventType)
	}

	var batch models.Batch
	if err := s.db.WithContext(ctx).
		Where("id = ? AND enterprise_id = ?", req.BatchID, enterpriseID).
		First(&batch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.E(apperr.ErrNotFound, "Batch not found")
		}
		return nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
	}

	if req.DocumentCID == "" {
		return nil, apperr.E(apperr.ErrInvalidAttestation, "Document CID is required for event creation")
	}
	if !attestation.ValidCID(req.DocumentCID) {
		return nil, apperr.E(apperr.ErrInvalidAttestation, "Invalid document CID format. Must start with 'Qm' or 'bafy'")
	}

	eventID := utils.NewID("event")
	now := time.Now()
	eventTime := now
	if req.Timestamp != nil {
		eventTime = *req.Timestamp
	}

	txHash, err := s.ledger.Commit(ctx, map[string]string{
		"event_id":     eventID,
		"batch_id":     req.BatchID,
		"event_type":   req.EventType,
		"document_cid": req.DocumentCID,
		"timestamp":    eventTime.Format(time.RFC3339Nano),
	})
	if err != nil || txHash == "" {
		return nil, apperr.E(apperr.ErrCommitmentFailed, "Ledger registration is required but failed: %v", err)
	}

	event := models.TraceEvent{
		ID:           eventID,
		BatchID:      req.BatchID,
		BatchNumber:  batch.BatchNumber,
		ProductID:    batch.ProductID,
		EnterpriseID: batch.EnterpriseID,
		EventType:    req.EventType,
		Timestamp:    eventTime,
		Location:     req.Location,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		Operator:     req.Operator,
		Temperature:  req.Temperature,
		Humidity:     req.Humidity,
		Notes:        req.Notes,
		DocumentCID:  req.DocumentCID,
		LedgerTxHash: txHash,
		CreationDate: now,
	}
	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		return nil, apperr.E(apperr.ErrStoreUnavailable, "Failed to create trace event")
	}

	if status, ok := statusForEvent[req.EventType]; ok && status != batch.Status {
		err := s.db.WithContext(ctx).Model(&models.Batch{}).
			Where("id = ?", req.BatchID).
			Update("status", status).Error
		if err != nil {
			s.log.Warn("failed to update batch status after trace event",
				zap.String("batch_id", req.BatchID),
				zap.String("event_type", req.EventType),
				zap.String("status", status),
				zap.Error(err))
		}
	}

	return &event, nil
}

type EventFilter struct {
	EventType string
	FromDate  *time.Time
	ToDate    *time.Time
	Limit     int
	Offset    int
}

// BatchEvents returns a batch's events oldest-first: the chain reads as a
// timeline. The date range is inclusive on both ends.
func (s *TraceabilityHandler) BatchEvents(ctx context.Context, batchID, enterpriseID string, f EventFilter) ([]models.TraceEvent, error) {
	var batch models.Batch
	if err := s.db.WithContext(ctx).
		Where("id = ? AND enterprise_id = ?", batchID, enterpriseID).
		First(&batch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.E(apperr.ErrNotFound, "Batch not found")
		}
		return nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
	}

	query := s.db.WithContext(ctx).Where("batch_id = ?", batchID)
	query = applyEventFilter(query, f)

	events := []models.TraceEvent{}
	err := query.Order("timestamp ASC").Order("id ASC").
		Offset(normalizeOffset(f.Offset)).Limit(normalizeLimit(f.Limit)).
		Find(&events).Error
	if err != nil {
		return nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
	}
	return events, nil
}

// History returns an enterprise's events newest-first with optional product
// and range filters.
func (s *TraceabilityHandler) History(ctx context.Context, enterpriseID, productID string, f EventFilter) ([]models.TraceEvent, error) {
	query := s.db.WithContext(ctx).Where("enterprise_id = ?", enterpriseID)
	if productID != "" {
		query = query.Where("product_id = ?", productID)
	}
	query = applyEventFilter(query, f)

	events := []models.TraceEvent{}
	err := query.Order("timestamp DESC").Order("id DESC").
		Offset(normalizeOffset(f.Offset)).Limit(normalizeLimit(f.Limit)).
		Find(&events).Error
	if err != nil {
		return nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
	}
	return events, nil
}

func (s *TraceabilityHandler) GetEvent(ctx context.Context, eventID, enterpriseID string) (*models.TraceEvent, error) {
	var event models.TraceEvent
	err := s.db.WithContext(ctx).
		Where("id = ? AND enterprise_id = ?", eventID, enterpriseID).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.E(apperr.ErrNotFound, "Trace event not found")
		}
		return nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
	}
	return &event, nil
}

// StoreDocument puts raw document content into the document store and returns
// the CID the caller should attach to a batch or event.
func (s *TraceabilityHandler) StoreDocument(ctx context.Context, content []byte) (string, error) {
	if len(content) == 0 {
		return "", apperr.E(apperr.ErrValidation, "Document content is empty")
	}
	cid, err := s.docs.Store(ctx, content)
	if err != nil {
		return "", apperr.E(apperr.ErrStoreUnavailable, "Failed to store document: %v", err)
	}
	return cid, nil
}

func applyEventFilter(query *gorm.DB, f EventFilter) *gorm.DB {
	if f.EventType != "" {
		query = query.Where("event_type = ?", f.EventType)
	}
	if f.FromDate != nil {
		query = query.Where("timestamp >= ?", *f.FromDate)
	}
	if f.ToDate != nil {
		query = query.Where("timestamp <= ?", *f.ToDate)
	}
	return query
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

// --- HTTP endpoints ---

func (s *TraceabilityHandler) success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

func (s *TraceabilityHandler) error(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"success": false,
		"error":   message,
	})
}

func (s *TraceabilityHandler) actor(c *gin.Context) (string, bool) {
	enterpriseID := c.GetString(middleware.CtxEnterpriseID)
	if enterpriseID == "" {
		s.error(c, http.StatusBadRequest, "User not associated with an enterprise")
		return "", false
	}
	return enterpriseID, true
}

func parseEventFilter(c *gin.Context) (EventFilter, error) {
	f := EventFilter{EventType: c.Query("event_type")}

	if v := c.Query("from_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, apperr.E(apperr.ErrValidation, "Invalid from_date, expected RFC3339")
		}
		f.FromDate = &t
	}
	if v := c.Query("to_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, apperr.E(apperr.ErrValidation, "Invalid to_date, expected RFC3339")
		}
		f.ToDate = &t
	}

	f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "100"))
	f.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	return f, nil
}

// POST /trace/events
func (s *TraceabilityHandler) Create(c *gin.Context) {
	var req CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.error(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	enterpriseID, ok := s.actor(c)
	if !ok {
		return
	}

	event, err := s.CreateEvent(c.Request.Context(), req, enterpriseID)
	if err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}
	s.success(c, event)
}

// GET /trace/batch/:batch_id
func (s *TraceabilityHandler) ListBatchEvents(c *gin.Context) {
	enterpriseID, ok := s.actor(c)
	if !ok {
		return
	}

	filter, err := parseEventFilter(c)
	if err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}

	events, err := s.BatchEvents(c.Request.Context(), c.Param("batch_id"), enterpriseID, filter)
	if err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}
	s.success(c, events)
}

// GET /trace/history
func (s *TraceabilityHandler) GetHistory(c *gin.Context) {
	enterpriseID, ok := s.actor(c)
	if !ok {
		return
	}

	filter, err := parseEventFilter(c)
	if err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}

	events, err := s.History(c.Request.Context(), enterpriseID, c.Query("product_id"), filter)
	if err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}
	s.success(c, events)
}

// GET /trace/events/:event_id
func (s *TraceabilityHandler) Get(c *gin.Context) {
	enterpriseID, ok := s.actor(c)
	if !ok {
		return
	}

	event, err := s.GetEvent(c.Request.Context(), c.Param("event_id"), enterpriseID)
	if err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}
	s.success(c, event)
}

// POST /trace/upload
func (s *TraceabilityHandler) Upload(c *gin.Context) {
	if _, ok := s.actor(c); !ok {
		return
	}

	file, _, err := c.Request.FormFile("file")
	if err != nil {
		s.error(c, http.StatusBadRequest, "Missing file upload")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		s.error(c, http.StatusBadRequest, "Failed to read file upload")
		return
	}

	cid, err := s.StoreDocument(c.Request.Context(), content)
	if err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}
	s.success(c, gin.H{"document_cid": cid})
}

// Package handler implements personal file storage for individual accounts
// and the public verification endpoints. Uploads follow the commit protocol:
// content is hashed and stored, the ledger commitment must succeed, and only
// then is the metadata row written. Duplicate content per owner is rejected
// by hash before anything is stored.
package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
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

type StorageHandler struct {
	db         *gorm.DB
	docs       attestation.DocumentStore
	ledger     attestation.Ledger
	log        *zap.Logger
	gatewayURL string
}

func NewStorageHandler(db *gorm.DB, docs attestation.DocumentStore, ledger attestation.Ledger, log *zap.Logger, gatewayURL string) *StorageHandler {
	return &StorageHandler{db: db, docs: docs, ledger: ledger, log: log, gatewayURL: gatewayURL}
}

type UploadResult struct {
	FileID       string `json:"file_id"`
	FileHash     string `json:"file_hash"`
	DocumentCID  string `json:"document_cid"`
	LedgerTxHash string `json:"ledger_tx_hash"`
	ViewURL      string `json:"view_url"`
}

// Upload stores content for an individual owner and commits the ownership
// record to the ledger.
func (s *StorageHandler) Upload(ctx context.Context, ownerID, fileName, contentType string, content []byte) (*UploadResult, error) {
	if len(content) == 0 {
		return nil, apperr.E(apperr.ErrValidation, "File content is empty")
	}

	fileHash := attestation.ContentHash(content)

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.FileRecord{}).
		Where("owner_id = ? AND file_hash = ?", ownerID, fileHash).
		Count(&count).Error; err != nil {
		return nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
	}
	if count > 0 {
		return nil, apperr.E(apperr.ErrValidation, "File already uploaded")
	}

	cid, err := s.docs.Store(ctx, content)
	if err != nil {
		return nil, apperr.E(apperr.ErrStoreUnavailable, "Failed to store document: %v", err)
	}

	txHash, err := s.ledger.Commit(ctx, map[string]string{
		"owner":     ownerID,
		"cid":       cid,
		"file_hash": fileHash,
		"timestamp": time.Now().Format(time.RFC3339Nano),
	})
	if err != nil || txHash == "" {
		// Orphaned blobs are harmless; the metadata row is the source of truth.
		return nil, apperr.E(apperr.ErrCommitmentFailed, "Ledger registration is required but failed: %v", err)
	}

	record := models.FileRecord{
		ID:           utils.NewID("file"),
		OwnerID:      ownerID,
		FileHash:     fileHash,
		FileName:     fileName,
		FileSize:     int64(len(content)),
		ContentType:  contentType,
		DocumentCID:  cid,
		LedgerTxHash: txHash,
		UploadDate:   time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, apperr.E(apperr.ErrStoreUnavailable, "Failed to record file upload")
	}

	return &UploadResult{
		FileID:       record.ID,
		FileHash:     fileHash,
		DocumentCID:  cid,
		LedgerTxHash: txHash,
		ViewURL:      attestation.ViewLink(s.gatewayURL, cid),
	}, nil
}

// ListFiles returns the owner's uploads newest-first.
func (s *StorageHandler) ListFiles(ctx context.Context, ownerID string) ([]models.FileRecord, error) {
	records := []models.FileRecord{}
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("upload_date DESC").
		Find(&records).Error
	if err != nil {
		return nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
	}
	return records, nil
}

// Download returns a file's content after the ledger confirms the caller
// owns it.
func (s *StorageHandler) Download(ctx context.Context, ownerID, fileHash string) ([]byte, *models.FileRecord, error) {
	var record models.FileRecord
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND file_hash = ?", ownerID, fileHash).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apperr.E(apperr.ErrNotFound, "File not found")
		}
		return nil, nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
	}

	owned, err := s.ledger.VerifyOwnership(ctx, ownerID, record.DocumentCID)
	if err != nil {
		return nil, nil, apperr.E(apperr.ErrStoreUnavailable, "Failed to verify ownership: %v", err)
	}
	if !owned {
		return nil, nil, apperr.E(apperr.ErrNotFound, "No ownership record for file")
	}

	content, err := s.docs.Fetch(ctx, record.DocumentCID)
	if err != nil {
		return nil, nil, apperr.E(apperr.ErrStoreUnavailable, "Failed to fetch document: %v", err)
	}
	return content, &record, nil
}

// Delete revokes the ledger record, unpins the content and removes the
// metadata row.
func (s *StorageHandler) Delete(ctx context.Context, ownerID, fileHash string) error {
	var record models.FileRecord
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND file_hash = ?", ownerID, fileHash).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.E(apperr.ErrNotFound, "File not found")
		}
		return apperr.E(apperr.ErrStoreUnavailable, "database error")
	}

	if _, err := s.ledger.Remove(ctx, ownerID, record.DocumentCID); err != nil {
		return apperr.E(apperr.ErrCommitmentFailed, "Failed to revoke ledger record: %v", err)
	}

	if err := s.docs.Unpin(ctx, record.DocumentCID); err != nil {
		s.log.Warn("failed to unpin document",
			zap.String("cid", record.DocumentCID), zap.Error(err))
	}

	if err := s.db.WithContext(ctx).Delete(&models.FileRecord{}, "id = ?", record.ID).Error; err != nil {
		return apperr.E(apperr.ErrStoreUnavailable, "Failed to delete file record")
	}
	return nil
}

// BatchVerification is the public proof bundle for one batch.
type BatchVerification struct {
	BatchID      string    `json:"batch_id"`
	BatchNumber  string    `json:"batch_number"`
	Status       string    `json:"status"`
	DocumentCID  string    `json:"document_cid"`
	LedgerTxHash string    `json:"ledger_tx_hash"`
	DocumentURL  string    `json:"document_url"`
	EventCount   int64     `json:"event_count"`
	CreationDate time.Time `json:"creation_date"`
}

// VerifyBatch serves the public verification page data for a batch. No
// authentication: anyone scanning the QR code can call it.
func (s *StorageHandler) VerifyBatch(ctx context.Context, batchID string) (*BatchVerification, error) {
	var batch models.Batch
	err := s.db.WithContext(ctx).Where("id = ?", batchID).First(&batch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.E(apperr.ErrNotFound, "Batch not found")
		}
		return nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
	}

	var eventCount int64
	if err := s.db.WithContext(ctx).Model(&models.TraceEvent{}).
		Where("batch_id = ?", batchID).
		Count(&eventCount).Error; err != nil {
		return nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
	}

	return &BatchVerification{
		BatchID:      batch.ID,
		BatchNumber:  batch.BatchNumber,
		Status:       batch.Status,
		DocumentCID:  batch.DocumentCID,
		LedgerTxHash: batch.LedgerTxHash,
		DocumentURL:  attestation.ViewLink(s.gatewayURL, batch.DocumentCID),
		EventCount:   eventCount,
		CreationDate: batch.CreationDate,
	}, nil
}

// VerifyContent resolves a content hash to its committed CID through the
// ledger.
func (s *StorageHandler) VerifyContent(ctx context.Context, fileHash string) (string, error) {
	if fileHash == "" {
		return "", apperr.E(apperr.ErrValidation, "file_hash is required")
	}
	cid, err := s.ledger.LookupByHash(ctx, fileHash)
	if err != nil {
		return "", err
	}
	return cid, nil
}

// --- HTTP endpoints ---

func (s *StorageHandler) success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

func (s *StorageHandler) error(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"success": false,
		"error":   message,
	})
}

// POST /storage/upload
func (s *StorageHandler) PostUpload(c *gin.Context) {
	ownerID := c.GetString(middleware.CtxUserID)

	file, header, err := c.Request.FormFile("file")
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

	result, err := s.Upload(c.Request.Context(), ownerID, header.Filename, header.Header.Get("Content-Type"), content)
	if err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}
	s.success(c, result)
}

// GET /storage/files
func (s *StorageHandler) GetFiles(c *gin.Context) {
	records, err := s.ListFiles(c.Request.Context(), c.GetString(middleware.CtxUserID))
	if err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}
	s.success(c, records)
}

// GET /storage/files/:file_hash
func (s *StorageHandler) GetFile(c *gin.Context) {
	content, record, err := s.Download(c.Request.Context(), c.GetString(middleware.CtxUserID), c.Param("file_hash"))
	if err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}

	contentType := record.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", record.FileName))
	c.Data(http.StatusOK, contentType, content)
}

// DELETE /storage/files/:file_hash
func (s *StorageHandler) DeleteFile(c *gin.Context) {
	if err := s.Delete(c.Request.Context(), c.GetString(middleware.CtxUserID), c.Param("file_hash")); err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}
	s.success(c, gin.H{"message": "File deleted successfully"})
}

// GET /verify/:batch_id (public)
func (s *StorageHandler) GetVerifyBatch(c *gin.Context) {
	result, err := s.VerifyBatch(c.Request.Context(), c.Param("batch_id"))
	if err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}
	s.success(c, result)
}

// POST /verify/cid (public)
func (s *StorageHandler) PostVerifyCID(c *gin.Context) {
	var body struct {
		FileHash string `json:"file_hash" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		s.error(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	cid, err := s.VerifyContent(c.Request.Context(), body.FileHash)
	if err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}
	s.success(c, gin.H{"file_hash": body.FileHash, "document_cid": cid, "view_url": attestation.ViewLink(s.gatewayURL, cid)})
}

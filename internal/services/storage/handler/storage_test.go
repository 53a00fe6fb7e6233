package handler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"veritrace-system/internal/apperr"
	"veritrace-system/internal/database"
	"veritrace-system/internal/database/models"
	"veritrace-system/internal/services/attestation"
)

const testGateway = "https://ipfs.io/ipfs"

func newTestHandler(t *testing.T) (*StorageHandler, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))

	docs := attestation.NewMockDocumentStore()
	ledger := attestation.NewMockLedger()
	return NewStorageHandler(db, docs, ledger, zap.NewNop(), testGateway), db
}

func TestUploadAndDownloadRoundTrip(t *testing.T) {
	h, db := newTestHandler(t)
	ctx := context.Background()
	content := []byte("quarterly contract")

	result, err := h.Upload(ctx, "user_1", "contract.pdf", "application/pdf", content)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.DocumentCID, "Qm"))
	assert.True(t, strings.HasPrefix(result.LedgerTxHash, "0x"))
	assert.Equal(t, attestation.ContentHash(content), result.FileHash)
	assert.Equal(t, testGateway+"/"+result.DocumentCID, result.ViewURL)

	var record models.FileRecord
	require.NoError(t, db.First(&record, "id = ?", result.FileID).Error)
	assert.Equal(t, "contract.pdf", record.FileName)
	assert.EqualValues(t, len(content), record.FileSize)

	fetched, fetchedRecord, err := h.Download(ctx, "user_1", result.FileHash)
	require.NoError(t, err)
	assert.Equal(t, content, fetched)
	assert.Equal(t, result.FileID, fetchedRecord.ID)
}

func TestUploadDuplicateContentRejected(t *testing.T) {
	h, _ := newTestHandler(t)
	ctx := context.Background()
	content := []byte("quarterly contract")

	_, err := h.Upload(ctx, "user_1", "contract.pdf", "application/pdf", content)
	require.NoError(t, err)

	_, err = h.Upload(ctx, "user_1", "contract-copy.pdf", "application/pdf", content)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	assert.Contains(t, err.Error(), "already uploaded")

	// Another owner may upload the same content.
	_, err = h.Upload(ctx, "user_2", "contract.pdf", "application/pdf", content)
	require.NoError(t, err)
}

func TestUploadEmptyContent(t *testing.T) {
	h, _ := newTestHandler(t)

	_, err := h.Upload(context.Background(), "user_1", "empty.txt", "text/plain", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestDownloadRequiresOwnership(t *testing.T) {
	h, _ := newTestHandler(t)
	ctx := context.Background()

	result, err := h.Upload(ctx, "user_1", "contract.pdf", "application/pdf", []byte("quarterly contract"))
	require.NoError(t, err)

	// Another user has no metadata row for the hash, let alone a ledger record.
	_, _, err = h.Download(ctx, "user_2", result.FileHash)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestDeleteRevokesAndRemoves(t *testing.T) {
	h, db := newTestHandler(t)
	ctx := context.Background()

	result, err := h.Upload(ctx, "user_1", "contract.pdf", "application/pdf", []byte("quarterly contract"))
	require.NoError(t, err)

	require.NoError(t, h.Delete(ctx, "user_1", result.FileHash))

	var count int64
	require.NoError(t, db.Model(&models.FileRecord{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)

	_, _, err = h.Download(ctx, "user_1", result.FileHash)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	err = h.Delete(ctx, "user_1", result.FileHash)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestListFilesNewestFirst(t *testing.T) {
	h, _ := newTestHandler(t)
	ctx := context.Background()

	_, err := h.Upload(ctx, "user_1", "first.txt", "text/plain", []byte("first"))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = h.Upload(ctx, "user_1", "second.txt", "text/plain", []byte("second"))
	require.NoError(t, err)
	_, err = h.Upload(ctx, "user_2", "other.txt", "text/plain", []byte("other"))
	require.NoError(t, err)

	files, err := h.ListFiles(ctx, "user_1")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "second.txt", files[0].FileName)
}

func TestVerifyBatchPublic(t *testing.T) {
	h, db := newTestHandler(t)
	ctx := context.Background()

	require.NoError(t, db.Create(&models.Batch{
		ID:              "batch_1",
		BatchNumber:     "COF-260829-001",
		ProductID:       "prod_1",
		EnterpriseID:    "ent_1",
		ProductionDate:  time.Now(),
		InitialQuantity: decimal.NewFromInt(100),
		CurrentQuantity: decimal.NewFromInt(100),
		Status:          models.BatchStatusShipped,
		DocumentCID:     "QmBatchDoc",
		LedgerTxHash:    "0xseed",
		CreationDate:    time.Now(),
	}).Error)
	require.NoError(t, db.Create(&models.TraceEvent{
		ID:           "event_1",
		BatchID:      "batch_1",
		EnterpriseID: "ent_1",
		EventType:    models.EventTypeShipped,
		Timestamp:    time.Now(),
		Location:     "Port of Rotterdam",
		DocumentCID:  "QmEventDoc",
		LedgerTxHash: "0xevent",
		CreationDate: time.Now(),
	}).Error)

	result, err := h.VerifyBatch(ctx, "batch_1")
	require.NoError(t, err)
	assert.Equal(t, "COF-260829-001", result.BatchNumber)
	assert.Equal(t, models.BatchStatusShipped, result.Status)
	assert.Equal(t, testGateway+"/QmBatchDoc", result.DocumentURL)
	assert.EqualValues(t, 1, result.EventCount)

	_, err = h.VerifyBatch(ctx, "batch_missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestVerifyContentByHash(t *testing.T) {
	h, _ := newTestHandler(t)
	ctx := context.Background()

	result, err := h.Upload(ctx, "user_1", "contract.pdf", "application/pdf", []byte("quarterly contract"))
	require.NoError(t, err)

	cid, err := h.VerifyContent(ctx, result.FileHash)
	require.NoError(t, err)
	assert.Equal(t, result.DocumentCID, cid)

	_, err = h.VerifyContent(ctx, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = h.VerifyContent(ctx, "deadbeef")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

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

const testCID = "QmTestCID1234567890abcdefabcdefabcdefabcdef12"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return db
}

func newTraceHandler(t *testing.T, db *gorm.DB) *TraceabilityHandler {
	t.Helper()
	return NewTraceabilityHandler(db, attestation.NewMockDocumentStore(), attestation.NewMockLedger(), zap.NewNop())
}

func seedBatch(t *testing.T, db *gorm.DB, id, enterpriseID string) {
	t.Helper()
	require.NoError(t, db.Create(&models.Batch{
		ID:              id,
		BatchNumber:     "COF-260829-001",
		ProductID:       "prod_1",
		EnterpriseID:    enterpriseID,
		ProductionDate:  time.Now(),
		InitialQuantity: decimal.NewFromInt(100),
		CurrentQuantity: decimal.NewFromInt(100),
		Status:          models.BatchStatusProduced,
		DocumentCID:     testCID,
		LedgerTxHash:    "0xseed",
		CreationDate:    time.Now(),
	}).Error)
}

func eventReq(batchID, eventType string) CreateEventRequest {
	return CreateEventRequest{
		BatchID:     batchID,
		EventType:   eventType,
		Location:    "Port of Rotterdam",
		DocumentCID: testCID,
	}
}

func TestCreateEventPersistsAndMovesStatus(t *testing.T) {
	db := newTestDB(t)
	h := newTraceHandler(t, db)
	seedBatch(t, db, "batch_1", "ent_1")

	event, err := h.CreateEvent(context.Background(), eventReq("batch_1", models.EventTypeShipped), "ent_1")
	require.NoError(t, err)

	assert.Equal(t, "COF-260829-001", event.BatchNumber)
	assert.Equal(t, "prod_1", event.ProductID)
	assert.Equal(t, "ent_1", event.EnterpriseID)
	assert.Contains(t, event.LedgerTxHash, "0x")

	var batch models.Batch
	require.NoError(t, db.First(&batch, "id = ?", "batch_1").Error)
	assert.Equal(t, models.BatchStatusShipped, batch.Status)
}

func TestCreateEventStoredMapsToInStorage(t *testing.T) {
	db := newTestDB(t)
	h := newTraceHandler(t, db)
	seedBatch(t, db, "batch_1", "ent_1")

	_, err := h.CreateEvent(context.Background(), eventReq("batch_1", models.EventTypeStored), "ent_1")
	require.NoError(t, err)

	var batch models.Batch
	require.NoError(t, db.First(&batch, "id = ?", "batch_1").Error)
	assert.Equal(t, models.BatchStatusInStorage, batch.Status)
}

func TestCreateEventRecalledLeavesStatusAlone(t *testing.T) {
	db := newTestDB(t)
	h := newTraceHandler(t, db)
	seedBatch(t, db, "batch_1", "ent_1")
	require.NoError(t, db.Model(&models.Batch{}).
		Where("id = ?", "batch_1").
		Update("status", models.BatchStatusShipped).Error)

	event, err := h.CreateEvent(context.Background(), eventReq("batch_1", models.EventTypeRecalled), "ent_1")
	require.NoError(t, err)
	assert.Equal(t, models.EventTypeRecalled, event.EventType)

	// Recall is decided through the batch status endpoint; the event alone
	// must not move the batch out of its current state.
	var batch models.Batch
	require.NoError(t, db.First(&batch, "id = ?", "batch_1").Error)
	assert.Equal(t, models.BatchStatusShipped, batch.Status)
}

func TestCreateEventProducedLeavesStatusAlone(t *testing.T) {
	db := newTestDB(t)
	h := newTraceHandler(t, db)
	seedBatch(t, db, "batch_1", "ent_1")
	require.NoError(t, db.Model(&models.Batch{}).
		Where("id = ?", "batch_1").
		Update("status", models.BatchStatusInStorage).Error)

	_, err := h.CreateEvent(context.Background(), eventReq("batch_1", models.EventTypeProduced), "ent_1")
	require.NoError(t, err)

	var batch models.Batch
	require.NoError(t, db.First(&batch, "id = ?", "batch_1").Error)
	assert.Equal(t, models.BatchStatusInStorage, batch.Status)
}

func TestCreateEventInspectedLeavesStatusAlone(t *testing.T) {
	db := newTestDB(t)
	h := newTraceHandler(t, db)
	seedBatch(t, db, "batch_1", "ent_1")

	_, err := h.CreateEvent(context.Background(), eventReq("batch_1", models.EventTypeInspected), "ent_1")
	require.NoError(t, err)

	var batch models.Batch
	require.NoError(t, db.First(&batch, "id = ?", "batch_1").Error)
	assert.Equal(t, models.BatchStatusProduced, batch.Status)
}

func TestCreateEventMissingCID(t *testing.T) {
	db := newTestDB(t)
	h := newTraceHandler(t, db)
	seedBatch(t, db, "batch_1", "ent_1")

	req := eventReq("batch_1", models.EventTypeShipped)
	req.DocumentCID = ""
	_, err := h.CreateEvent(context.Background(), req, "ent_1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInvalidAttestation))

	var count int64
	require.NoError(t, db.Model(&models.TraceEvent{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}

func TestCreateEventInvalidType(t *testing.T) {
	db := newTestDB(t)
	h := newTraceHandler(t, db)
	seedBatch(t, db, "batch_1", "ent_1")

	_, err := h.CreateEvent(context.Background(), eventReq("batch_1", "teleported"), "ent_1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestCreateEventUnknownBatch(t *testing.T) {
	db := newTestDB(t)
	h := newTraceHandler(t, db)

	_, err := h.CreateEvent(context.Background(), eventReq("batch_missing", models.EventTypeShipped), "ent_1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestBatchEventsChronologicalWithFilters(t *testing.T) {
	db := newTestDB(t)
	h := newTraceHandler(t, db)
	seedBatch(t, db, "batch_1", "ent_1")

	for _, eventType := range []string{models.EventTypeStored, models.EventTypeShipped, models.EventTypeReceived} {
		_, err := h.CreateEvent(context.Background(), eventReq("batch_1", eventType), "ent_1")
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	events, err := h.BatchEvents(context.Background(), "batch_1", "ent_1", EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, models.EventTypeStored, events[0].EventType)
	assert.Equal(t, models.EventTypeReceived, events[2].EventType)

	shipped, err := h.BatchEvents(context.Background(), "batch_1", "ent_1", EventFilter{EventType: models.EventTypeShipped})
	require.NoError(t, err)
	require.Len(t, shipped, 1)

	// An inclusive range that starts at the second event drops the first.
	from := events[1].Timestamp
	ranged, err := h.BatchEvents(context.Background(), "batch_1", "ent_1", EventFilter{FromDate: &from})
	require.NoError(t, err)
	assert.Len(t, ranged, 2)
}

func TestHistoryNewestFirstScopedToEnterprise(t *testing.T) {
	db := newTestDB(t)
	h := newTraceHandler(t, db)
	seedBatch(t, db, "batch_1", "ent_1")
	seedBatch(t, db, "batch_2", "ent_2")

	_, err := h.CreateEvent(context.Background(), eventReq("batch_1", models.EventTypeStored), "ent_1")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = h.CreateEvent(context.Background(), eventReq("batch_1", models.EventTypeShipped), "ent_1")
	require.NoError(t, err)
	_, err = h.CreateEvent(context.Background(), eventReq("batch_2", models.EventTypeSold), "ent_2")
	require.NoError(t, err)

	history, err := h.History(context.Background(), "ent_1", "", EventFilter{})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.EventTypeShipped, history[0].EventType)
}

func TestStoreDocumentReturnsCID(t *testing.T) {
	db := newTestDB(t)
	h := newTraceHandler(t, db)

	cid, err := h.StoreDocument(context.Background(), []byte("certificate of origin"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(cid, "Qm"))

	_, err = h.StoreDocument(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

package handler

import (
	"context"
	"errors"
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
)

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

func seedProduct(t *testing.T, db *gorm.DB, id, enterpriseID, name string) {
	t.Helper()
	require.NoError(t, db.Create(&models.Product{
		ID:           id,
		EnterpriseID: enterpriseID,
		ProductName:  name,
		Unit:         "kg",
		CreationDate: time.Now(),
	}).Error)
}

func adjustReq(productID, op string, qty int64) AdjustRequest {
	return AdjustRequest{
		ProductID:        productID,
		Location:         "warehouse-a",
		ChangeInQuantity: decimal.NewFromInt(qty),
		Operation:        op,
	}
}

func TestAdjustInventoryAddCreatesItemAndAudit(t *testing.T) {
	db := newTestDB(t)
	h := NewInventoryHandler(db, zap.NewNop())
	seedProduct(t, db, "prod_1", "ent_1", "Coffee Beans")

	result, err := h.AdjustInventory(context.Background(), adjustReq("prod_1", models.InventoryOpAdd, 100), "ent_1", "user_1")
	require.NoError(t, err)

	assert.True(t, result.Inventory.Quantity.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "Coffee Beans", result.ProductName)
	assert.NotEmpty(t, result.AuditLogID)

	var entry models.InventoryAuditLog
	require.NoError(t, db.First(&entry, "id = ?", result.AuditLogID).Error)
	assert.True(t, entry.PreviousQuantity.Equal(decimal.Zero))
	assert.True(t, entry.NewQuantity.Equal(decimal.NewFromInt(100)))
	assert.True(t, entry.ChangeAmount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, models.InventoryOpAdd, entry.Operation)
	assert.Equal(t, "user_1", entry.UserID)
}

func TestAdjustInventoryRepeatedAddsUpdateSingleRow(t *testing.T) {
	db := newTestDB(t)
	h := NewInventoryHandler(db, zap.NewNop())
	seedProduct(t, db, "prod_1", "ent_1", "Coffee Beans")

	_, err := h.AdjustInventory(context.Background(), adjustReq("prod_1", models.InventoryOpAdd, 100), "ent_1", "user_1")
	require.NoError(t, err)
	result, err := h.AdjustInventory(context.Background(), adjustReq("prod_1", models.InventoryOpAdd, 50), "ent_1", "user_1")
	require.NoError(t, err)

	assert.True(t, result.Inventory.Quantity.Equal(decimal.NewFromInt(150)))

	var items []models.InventoryItem
	require.NoError(t, db.Find(&items).Error)
	assert.Len(t, items, 1)

	var count int64
	require.NoError(t, db.Model(&models.InventoryAuditLog{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestAdjustInventoryRemoveExceedingStock(t *testing.T) {
	db := newTestDB(t)
	h := NewInventoryHandler(db, zap.NewNop())
	seedProduct(t, db, "prod_1", "ent_1", "Coffee Beans")

	_, err := h.AdjustInventory(context.Background(), adjustReq("prod_1", models.InventoryOpAdd, 100), "ent_1", "user_1")
	require.NoError(t, err)

	_, err = h.AdjustInventory(context.Background(), adjustReq("prod_1", models.InventoryOpRemove, 150), "ent_1", "user_1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInsufficientStock))
	assert.Contains(t, err.Error(), "Not enough inventory")

	var item models.InventoryItem
	require.NoError(t, db.First(&item, "product_id = ?", "prod_1").Error)
	assert.True(t, item.Quantity.Equal(decimal.NewFromInt(100)))

	var count int64
	require.NoError(t, db.Model(&models.InventoryAuditLog{}).Count(&count).Error)
	assert.EqualValues(t, 1, count, "the rejected remove must not write an audit entry")
}

func TestAdjustInventoryRemoveFromMissingInventory(t *testing.T) {
	db := newTestDB(t)
	h := NewInventoryHandler(db, zap.NewNop())
	seedProduct(t, db, "prod_1", "ent_1", "Coffee Beans")

	_, err := h.AdjustInventory(context.Background(), adjustReq("prod_1", models.InventoryOpRemove, 10), "ent_1", "user_1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	assert.Contains(t, err.Error(), "Cannot remove from non-existent inventory")
}

func TestAdjustInventoryValidation(t *testing.T) {
	db := newTestDB(t)
	h := NewInventoryHandler(db, zap.NewNop())
	seedProduct(t, db, "prod_1", "ent_1", "Coffee Beans")

	_, err := h.AdjustInventory(context.Background(), adjustReq("prod_1", "transfer", 10), "ent_1", "user_1")
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = h.AdjustInventory(context.Background(), adjustReq("prod_1", models.InventoryOpAdd, 0), "ent_1", "user_1")
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = h.AdjustInventory(context.Background(), adjustReq("prod_1", models.InventoryOpAdd, -5), "ent_1", "user_1")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestAdjustInventoryUnknownProduct(t *testing.T) {
	db := newTestDB(t)
	h := NewInventoryHandler(db, zap.NewNop())

	_, err := h.AdjustInventory(context.Background(), adjustReq("prod_missing", models.InventoryOpAdd, 10), "ent_1", "user_1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestAdjustInventoryTenantIsolation(t *testing.T) {
	db := newTestDB(t)
	h := NewInventoryHandler(db, zap.NewNop())
	seedProduct(t, db, "prod_1", "ent_1", "Coffee Beans")

	// The product exists but belongs to another enterprise.
	_, err := h.AdjustInventory(context.Background(), adjustReq("prod_1", models.InventoryOpAdd, 10), "ent_2", "user_1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestGetInventoryLocationFilter(t *testing.T) {
	db := newTestDB(t)
	h := NewInventoryHandler(db, zap.NewNop())
	seedProduct(t, db, "prod_1", "ent_1", "Coffee Beans")

	req := adjustReq("prod_1", models.InventoryOpAdd, 100)
	_, err := h.AdjustInventory(context.Background(), req, "ent_1", "user_1")
	require.NoError(t, err)

	req.Location = "warehouse-b"
	req.ChangeInQuantity = decimal.NewFromInt(30)
	_, err = h.AdjustInventory(context.Background(), req, "ent_1", "user_1")
	require.NoError(t, err)

	all, err := h.GetInventory(context.Background(), "prod_1", "ent_1", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyB, err := h.GetInventory(context.Background(), "prod_1", "ent_1", "warehouse-b")
	require.NoError(t, err)
	require.Len(t, onlyB, 1)
	assert.True(t, onlyB[0].Quantity.Equal(decimal.NewFromInt(30)))
}

func TestGetInventoryEmptyIsNotAnError(t *testing.T) {
	db := newTestDB(t)
	h := NewInventoryHandler(db, zap.NewNop())
	seedProduct(t, db, "prod_1", "ent_1", "Coffee Beans")

	items, err := h.GetInventory(context.Background(), "prod_1", "ent_1", "")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestAuditTrailNewestFirstWithPagination(t *testing.T) {
	db := newTestDB(t)
	h := NewInventoryHandler(db, zap.NewNop())
	seedProduct(t, db, "prod_1", "ent_1", "Coffee Beans")

	for _, qty := range []int64{10, 20, 30} {
		_, err := h.AdjustInventory(context.Background(), adjustReq("prod_1", models.InventoryOpAdd, qty), "ent_1", "user_1")
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	entries, err := h.AuditTrail(context.Background(), "prod_1", "ent_1", "", 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, entries[0].ChangeAmount.Equal(decimal.NewFromInt(30)))
	assert.True(t, entries[2].ChangeAmount.Equal(decimal.NewFromInt(10)))

	page, err := h.AuditTrail(context.Background(), "prod_1", "ent_1", "", 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, page[0].ChangeAmount.Equal(decimal.NewFromInt(20)))
}

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"veritrace-system/internal/database"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return NewService(db, zap.NewNop())
}

func TestLogChangeAndEntityTrail(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	id1, err := svc.LogChange(ctx, "product", "prod_1", "unit", "kg", "lb", "user_1")
	require.NoError(t, err)
	require.NotEmpty(t, id1)
	time.Sleep(2 * time.Millisecond)

	id2, err := svc.LogChange(ctx, "product", "prod_1", "sku", "", "COF", "user_2")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	_, err = svc.LogChange(ctx, "batch", "batch_1", "status", "produced", "shipped", "user_1")
	require.NoError(t, err)

	trail, err := svc.EntityTrail(ctx, "product", "prod_1")
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, id2, trail[0].ID, "trail is newest first")
	assert.Equal(t, id1, trail[1].ID)
	assert.Equal(t, "sku", trail[0].FieldChanged)
}

func TestEntityTrailEmpty(t *testing.T) {
	svc := newTestService(t)

	trail, err := svc.EntityTrail(context.Background(), "product", "prod_unknown")
	require.NoError(t, err)
	assert.Empty(t, trail)
}

func TestSearchConjunctiveFilters(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.LogChange(ctx, "product", "prod_1", "unit", "kg", "lb", "user_1")
	require.NoError(t, err)
	_, err = svc.LogChange(ctx, "product", "prod_2", "unit", "kg", "g", "user_2")
	require.NoError(t, err)
	_, err = svc.LogChange(ctx, "batch", "batch_1", "status", "produced", "shipped", "user_1")
	require.NoError(t, err)

	byType, err := svc.Search(ctx, SearchFilter{EntityType: "product"})
	require.NoError(t, err)
	assert.Len(t, byType, 2)

	byActor, err := svc.Search(ctx, SearchFilter{ChangedBy: "user_1"})
	require.NoError(t, err)
	assert.Len(t, byActor, 2)

	both, err := svc.Search(ctx, SearchFilter{EntityType: "product", ChangedBy: "user_1"})
	require.NoError(t, err)
	require.Len(t, both, 1)
	assert.Equal(t, "prod_1", both[0].EntityID)

	none, err := svc.Search(ctx, SearchFilter{EntityType: "batch", ChangedBy: "user_2"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSearchDateRangeInclusive(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	before := time.Now().Add(-time.Second)
	_, err := svc.LogChange(ctx, "product", "prod_1", "unit", "kg", "lb", "user_1")
	require.NoError(t, err)
	after := time.Now().Add(time.Second)

	inRange, err := svc.Search(ctx, SearchFilter{FromDate: &before, ToDate: &after})
	require.NoError(t, err)
	assert.Len(t, inRange, 1)

	tooLate := time.Now().Add(time.Hour)
	outOfRange, err := svc.Search(ctx, SearchFilter{FromDate: &tooLate})
	require.NoError(t, err)
	assert.Empty(t, outOfRange)
}

func TestSearchPagination(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.LogChange(ctx, "product", "prod_1", "unit", "a", "b", "user_1")
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	page, err := svc.Search(ctx, SearchFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, page, 2)

	all, err := svc.Search(ctx, SearchFilter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, all[1].ID, page[0].ID)
}

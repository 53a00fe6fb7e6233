package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Inventory operations.
const (
	InventoryOpAdd    = "add"
	InventoryOpRemove = "remove"
)

// InventoryItem holds the current stock level for one
// (product, location, enterprise) key. The compound unique index is what makes
// repeated adds update a single row instead of creating duplicates.
type InventoryItem struct {
	ID           string          `gorm:"size:50;primaryKey" json:"id"`
	ProductID    string          `gorm:"size:50;index:idx_inventory_key,unique,priority:1;not null" json:"product_id"`
	Location     string          `gorm:"size:255;index:idx_inventory_key,unique,priority:2;not null" json:"location"`
	EnterpriseID string          `gorm:"size:50;index:idx_inventory_key,unique,priority:3;not null" json:"enterprise_id"`
	Quantity     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	LastUpdated  time.Time       `json:"last_updated"`
}

// InventoryAuditLog is an immutable record of one inventory mutation. Every
// successful adjustment writes exactly one of these in the same transaction.
type InventoryAuditLog struct {
	ID               string          `gorm:"size:50;primaryKey" json:"id"`
	InventoryID      string          `gorm:"size:50;index;not null" json:"inventory_id"`
	ProductID        string          `gorm:"size:50;index:idx_inv_audit_product_ts,priority:1;not null" json:"product_id"`
	EnterpriseID     string          `gorm:"size:50;index;not null" json:"enterprise_id"`
	Location         string          `gorm:"size:255;index" json:"location"`
	PreviousQuantity decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"previous_quantity"`
	NewQuantity      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"new_quantity"`
	ChangeAmount     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"change_amount"`
	Operation        string          `gorm:"size:20;not null" json:"operation"`
	Timestamp        time.Time       `gorm:"index:idx_inv_audit_product_ts,priority:2,sort:desc" json:"timestamp"`
	UserID           string          `gorm:"size:50" json:"user_id"`
	Notes            *string         `gorm:"size:1000" json:"notes,omitempty"`
}

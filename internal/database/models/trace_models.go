package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Batch lifecycle statuses. Transitions are driven by traceability events and
// are not strictly linear (a recalled batch can come from any state).
const (
	BatchStatusProduced  = "produced"
	BatchStatusInStorage = "in_storage"
	BatchStatusShipped   = "shipped"
	BatchStatusReceived  = "received"
	BatchStatusSold      = "sold"
	BatchStatusRecalled  = "recalled"
	BatchStatusExpired   = "expired"
)

// Traceability event types.
const (
	EventTypeProduced  = "produced"
	EventTypeStored    = "stored"
	EventTypeShipped   = "shipped"
	EventTypeReceived  = "received"
	EventTypeSold      = "sold"
	EventTypeRecalled  = "recalled"
	EventTypeInspected = "inspected"
)

type Batch struct {
	ID              string          `gorm:"size:50;primaryKey" json:"id"`
	BatchNumber     string          `gorm:"size:100;index" json:"batch_number"`
	ProductID       string          `gorm:"size:50;index:idx_batches_tenant_product,priority:2;not null" json:"product_id"`
	EnterpriseID    string          `gorm:"size:50;index:idx_batches_tenant_product,priority:1;not null" json:"enterprise_id"`
	ProductionDate  time.Time       `json:"production_date"`
	ExpiryDate      *time.Time      `json:"expiry_date,omitempty"`
	InitialQuantity decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"initial_quantity"`
	CurrentQuantity decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"current_quantity"`
	Status          string          `gorm:"size:30;index" json:"status"`
	BatchNotes      *string         `gorm:"size:1000" json:"batch_notes,omitempty"`
	DocumentCID     string          `gorm:"size:100;not null" json:"document_cid"`
	LedgerTxHash    string          `gorm:"size:100;not null" json:"ledger_tx_hash"`
	QRCodeURL       string          `gorm:"size:255" json:"qr_code_url"`
	VerificationURL string          `gorm:"size:255" json:"verification_url"`
	CreationDate    time.Time       `gorm:"index" json:"creation_date"`
}

type TraceEvent struct {
	ID           string     `gorm:"size:50;primaryKey" json:"id"`
	BatchID      string     `gorm:"size:50;index;not null" json:"batch_id"`
	BatchNumber  string     `gorm:"size:100" json:"batch_number"`
	ProductID    string     `gorm:"size:50;index" json:"product_id"`
	EnterpriseID string     `gorm:"size:50;index;not null" json:"enterprise_id"`
	EventType    string     `gorm:"size:30;index;not null" json:"event_type"`
	Timestamp    time.Time  `gorm:"index" json:"timestamp"`
	Location     string     `gorm:"size:255;not null" json:"location"`
	Latitude     *float64   `json:"latitude,omitempty"`
	Longitude    *float64   `json:"longitude,omitempty"`
	Operator     *string    `gorm:"size:100" json:"operator,omitempty"`
	Temperature  *float64   `json:"temperature,omitempty"`
	Humidity     *float64   `json:"humidity,omitempty"`
	Notes        *string    `gorm:"size:1000" json:"notes,omitempty"`
	DocumentCID  string     `gorm:"size:100;not null" json:"document_cid"`
	LedgerTxHash string     `gorm:"size:100;not null" json:"ledger_tx_hash"`
	CreationDate time.Time  `json:"creation_date"`
}

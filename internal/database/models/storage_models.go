package models

import "time"

// FileRecord is the metadata row for a B2C uploaded file. Ownership of the
// content itself is proven through the ledger, not this table.
type FileRecord struct {
	ID           string    `gorm:"size:50;primaryKey" json:"id"`
	OwnerID      string    `gorm:"size:50;index:idx_files_owner_hash,unique,priority:1;not null" json:"owner_id"`
	FileHash     string    `gorm:"size:64;index:idx_files_owner_hash,unique,priority:2;not null" json:"file_hash"`
	FileName     string    `gorm:"size:255" json:"file_name"`
	FileSize     int64     `json:"file_size"`
	ContentType  string    `gorm:"size:100" json:"content_type"`
	DocumentCID  string    `gorm:"size:100;not null" json:"document_cid"`
	LedgerTxHash string    `gorm:"size:100;not null" json:"ledger_tx_hash"`
	UploadDate   time.Time `json:"upload_date"`
}

package models

import "time"

// AuditLog is the generic field-level change log shared by all entity types.
// Entries are write-once: nothing in the codebase updates or deletes them.
type AuditLog struct {
	ID           string    `gorm:"size:50;primaryKey" json:"id"`
	EntityType   string    `gorm:"size:50;index:idx_audit_entity,priority:1;not null" json:"entity_type"`
	EntityID     string    `gorm:"size:50;index:idx_audit_entity,priority:2;not null" json:"entity_id"`
	FieldChanged string    `gorm:"size:100;not null" json:"field_changed"`
	OldValue     string    `gorm:"size:1000" json:"old_value"`
	NewValue     string    `gorm:"size:1000" json:"new_value"`
	ChangedBy    string    `gorm:"size:50;index" json:"changed_by"`
	Timestamp    time.Time `gorm:"index" json:"timestamp"`
}

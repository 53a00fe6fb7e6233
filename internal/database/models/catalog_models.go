package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// AttributeMap stores free-form product attributes as a JSON column.
type AttributeMap map[string]string

func (m *AttributeMap) Scan(value interface{}) error {
	if value == nil {
		*m = AttributeMap{}
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("failed to scan AttributeMap: %v", value)
	}
}

func (m AttributeMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

type Enterprise struct {
	ID             string  `gorm:"size:50;primaryKey" json:"id"`
	EnterpriseName string  `gorm:"size:255;uniqueIndex;not null" json:"enterprise_name"`
	Email          string  `gorm:"size:100;uniqueIndex;not null" json:"email"`
	Industry       *string `gorm:"size:100" json:"industry,omitempty"`
	Address        *string `gorm:"size:255" json:"address,omitempty"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type User struct {
	ID           string  `gorm:"size:50;primaryKey" json:"id"`
	Username     string  `gorm:"size:100;uniqueIndex;not null" json:"username"`
	Email        string  `gorm:"size:100;uniqueIndex;not null" json:"email"`
	Password     string  `gorm:"size:255;not null" json:"-"`
	EnterpriseID *string `gorm:"size:50;index" json:"enterprise_id,omitempty"`
	IsActive     bool    `gorm:"default:true" json:"is_active"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type Product struct {
	ID           string       `gorm:"size:50;primaryKey" json:"id"`
	EnterpriseID string       `gorm:"size:50;index:idx_products_tenant_name,unique,priority:1;not null" json:"enterprise_id"`
	ProductName  string       `gorm:"size:255;index:idx_products_tenant_name,unique,priority:2;not null" json:"product_name"`
	ProductType  string       `gorm:"size:100" json:"product_type"`
	Unit         string       `gorm:"size:50" json:"unit"`
	Description  *string      `gorm:"size:1000" json:"description,omitempty"`
	SKU          *string      `gorm:"column:sku;size:100" json:"sku,omitempty"`
	Barcode      *string      `gorm:"size:100" json:"barcode,omitempty"`
	Attributes   AttributeMap `gorm:"type:text" json:"attributes,omitempty"`
	CreationDate time.Time    `json:"creation_date"`
	UpdatedAt    time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

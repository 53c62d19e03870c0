package models

import (
	"time"

	"gorm.io/gorm"
)

// ProductionUpdate is a progress report attached to an order while it is in
// production. Updates are append-mostly; customers only see rows flagged
// visible_to_customer.
type ProductionUpdate struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	OrderID     uint   `gorm:"not null;index" json:"order_id"`
	Order       Order  `gorm:"foreignKey:OrderID" json:"-"`
	Stage       string `gorm:"not null" json:"stage"` // e.g. "printing", "quality_check", "packing"
	Status      string `gorm:"not null" json:"status"`
	Description string `gorm:"type:text" json:"description"`

	Photos []string `gorm:"serializer:json" json:"photos,omitempty"` // photo URLs; storage is out of scope

	VisibleToCustomer bool   `gorm:"not null;default:false" json:"visible_to_customer"`
	CreatedBy         string `json:"created_by"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for the ProductionUpdate model
func (ProductionUpdate) TableName() string {
	return "production_updates"
}

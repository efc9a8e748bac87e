package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Customer links an internal principal to its billing-provider customer id.
type Customer struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	BillingCustomerID *string   `gorm:"column:billing_customer_id;uniqueIndex:ux_customers_billing_customer_id"`
	Email             *string   `gorm:"column:email"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Customer) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// PayerMapping links an individual payer to the company they pay for.
type PayerMapping struct {
	ID            uuid.UUID     `gorm:"size:36;primaryKey" json:"id"`
	PersonName    string        `gorm:"index" json:"person_name"`
	CompanyName   string        `gorm:"index" json:"company_name"`
	AccountSuffix string        `json:"account_suffix,omitempty"`
	Remark        string        `json:"remark,omitempty"`
	Source        MappingSource `gorm:"size:16" json:"source"`
	CreatedAt     time.Time     `json:"created_at"`
}

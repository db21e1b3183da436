package models

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Master data pulled from the gateway. Each record keeps the remote id so
// outbound payloads can reference gateway entities directly.

type Company struct {
	ID          int       `gorm:"primary_key" json:"id"`
	Name        string    `gorm:"size:140;uniqueIndex;not null" json:"name"`
	SladeId     string    `gorm:"size:64;index" json:"slade_id"`
	TaxPayerPIN string    `gorm:"size:20" json:"tax_payer_pin"`
	Phone       string    `gorm:"size:20" json:"phone"`
	Email       string    `gorm:"size:100" json:"email"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Branch struct {
	ID          int       `gorm:"primary_key" json:"id"`
	CompanyName string    `gorm:"size:140;index" json:"company_name"`
	Name        string    `gorm:"size:140;not null" json:"name"`
	SladeId     string    `gorm:"size:64;uniqueIndex" json:"slade_id"`
	BranchCode  string    `gorm:"size:10" json:"branch_code"`
	IsHQ        *bool     `gorm:"default:0" json:"is_hq"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Department struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:140;not null" json:"name"`
	SladeId   string    `gorm:"size:64;uniqueIndex" json:"slade_id"`
	BranchId  string    `gorm:"size:64;index" json:"branch_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Warehouse struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:140;not null" json:"name"`
	SladeId   string    `gorm:"size:64;uniqueIndex" json:"slade_id"`
	BranchId  string    `gorm:"size:64;index" json:"branch_id"`
	IsActive  *bool     `gorm:"default:1" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Workstation struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:140;not null" json:"name"`
	SladeId   string    `gorm:"size:64;uniqueIndex" json:"slade_id"`
	BranchId  string    `gorm:"size:64;index" json:"branch_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Currency struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:60;not null" json:"name"`
	IsoCode   string    `gorm:"size:3;uniqueIndex" json:"iso_code"`
	SladeId   string    `gorm:"size:64;index" json:"slade_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type ModeOfPayment struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:60;not null" json:"name"`
	SladeId   string    `gorm:"size:64;uniqueIndex" json:"slade_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type UnitOfMeasure struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:60;not null" json:"name"`
	SladeId   string    `gorm:"size:64;uniqueIndex" json:"slade_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type TaxType struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Code      string    `gorm:"size:10;index" json:"code"`
	SladeId   string    `gorm:"size:64;uniqueIndex" json:"slade_id"`
	Percent   float64   `json:"percent"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Customer struct {
	ID          int       `gorm:"primary_key" json:"id"`
	Name        string    `gorm:"size:140;index;not null" json:"name"`
	SladeId     string    `gorm:"size:64;uniqueIndex" json:"slade_id"`
	TaxPayerPIN string    `gorm:"size:20" json:"tax_payer_pin"`
	Phone       string    `gorm:"size:20" json:"phone"`
	Email       string    `gorm:"size:100" json:"email"`
	CurrencyId  string    `gorm:"size:64" json:"currency_id"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// UpsertBySladeId writes pulled master data keyed on the remote id, so
// repeated sync runs converge instead of duplicating rows.
func UpsertBySladeId[T any](ctx context.Context, db *gorm.DB, records []T) error {
	if len(records) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "slade_id"}},
			UpdateAll: true,
		}).
		Create(&records).Error
}

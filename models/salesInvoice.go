package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SalesInvoice mirrors one ERP sales invoice together with the fiscal
// fields the gateway returns after signing.
type SalesInvoice struct {
	ID          int    `gorm:"primary_key" json:"id"`
	Name        string `gorm:"size:140;uniqueIndex;not null" json:"name"`
	CompanyName string `gorm:"size:140;index" json:"company_name"`
	BranchId    string `gorm:"size:140" json:"branch_id"`
	Customer    string `gorm:"size:140" json:"customer"`

	PostingDate time.Time       `json:"posting_date"`
	Currency    string          `gorm:"size:3" json:"currency"`
	NetTotal    decimal.Decimal `gorm:"type:decimal(21,9)" json:"net_total"`
	TaxTotal    decimal.Decimal `gorm:"type:decimal(21,9)" json:"tax_total"`
	GrandTotal  decimal.Decimal `gorm:"type:decimal(21,9)" json:"grand_total"`
	IsReturn    *bool           `gorm:"default:0" json:"is_return"`
	ReturnAgainst string        `gorm:"size:140" json:"return_against"`

	Items []SalesInvoiceItem `gorm:"foreignKey:InvoiceName;references:Name" json:"items"`

	// Gateway bookkeeping.
	SladeId               string `gorm:"size:64;index" json:"slade_id"`
	SubmittedSuccessfully *bool  `gorm:"default:0" json:"submitted_successfully"`
	LinesSubmitted        *bool  `gorm:"default:0" json:"lines_submitted"`
	Signed                *bool  `gorm:"default:0" json:"signed"`

	// Fiscal receipt fields returned by the signer.
	ControlUnitSerial  string     `gorm:"size:64" json:"control_unit_serial"`
	ControlUnitInvoice string     `gorm:"size:64" json:"control_unit_invoice"`
	ReceiptSignature   string     `gorm:"size:128" json:"receipt_signature"`
	InternalData       string     `gorm:"size:128" json:"internal_data"`
	SignedAt           *time.Time `json:"signed_at"`
	QRCodeURL          string     `gorm:"size:512" json:"qr_code_url"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type SalesInvoiceItem struct {
	ID          int             `gorm:"primary_key" json:"id"`
	InvoiceName string          `gorm:"size:140;index;not null" json:"invoice_name"`
	ItemCode    string          `gorm:"size:140;not null" json:"item_code"`
	Qty         decimal.Decimal `gorm:"type:decimal(21,9)" json:"qty"`
	Rate        decimal.Decimal `gorm:"type:decimal(21,9)" json:"rate"`
	Amount      decimal.Decimal `gorm:"type:decimal(21,9)" json:"amount"`
	TaxCode     string          `gorm:"size:10" json:"tax_code"`
	TaxAmount   decimal.Decimal `gorm:"type:decimal(21,9)" json:"tax_amount"`
	SladeId     string          `gorm:"size:64" json:"slade_id"`
}

func (inv *SalesInvoice) IsSigned() bool {
	return inv.Signed != nil && *inv.Signed
}

func GetSalesInvoice(ctx context.Context, db *gorm.DB, name string) (*SalesInvoice, error) {
	var invoice SalesInvoice
	err := db.WithContext(ctx).Preload("Items").Where("name = ?", name).First(&invoice).Error
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (inv *SalesInvoice) MarkHeaderSubmitted(ctx context.Context, db *gorm.DB, sladeId string) error {
	return db.WithContext(ctx).Model(&SalesInvoice{}).
		Where("id = ?", inv.ID).
		Update("slade_id", sladeId).Error
}

func (inv *SalesInvoice) MarkLinesSubmitted(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Model(&SalesInvoice{}).
		Where("id = ?", inv.ID).
		Update("lines_submitted", true).Error
}

func (inv *SalesInvoice) MarkSubmitted(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Model(&SalesInvoice{}).
		Where("id = ?", inv.ID).
		Update("submitted_successfully", true).Error
}

// SaveReceipt stores the fiscal fields from the signed receipt.
func (inv *SalesInvoice) SaveReceipt(ctx context.Context, db *gorm.DB, serial, cuInvoice, signature, internalData string, signedAt time.Time) error {
	return db.WithContext(ctx).Model(&SalesInvoice{}).
		Where("id = ?", inv.ID).
		Updates(map[string]interface{}{
			"control_unit_serial":  serial,
			"control_unit_invoice": cuInvoice,
			"receipt_signature":    signature,
			"internal_data":        internalData,
			"signed":               true,
			"signed_at":            signedAt,
		}).Error
}

func (inv *SalesInvoice) SaveQRCodeURL(ctx context.Context, db *gorm.DB, url string) error {
	return db.WithContext(ctx).Model(&SalesInvoice{}).
		Where("id = ?", inv.ID).
		Update("qr_code_url", url).Error
}

// UnsignedInvoices lists invoices that have not completed the signing
// chain, for the periodic resubmission sweep.
func UnsignedInvoices(ctx context.Context, db *gorm.DB, limit int) ([]SalesInvoice, error) {
	var invoices []SalesInvoice
	err := db.WithContext(ctx).
		Where("signed = ? OR signed IS NULL", false).
		Order("id asc").
		Limit(limit).
		Find(&invoices).Error
	return invoices, err
}

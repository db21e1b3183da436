package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockLedgerEntry mirrors one ERP stock ledger row plus the submission
// bookkeeping fields the pipeline persists between steps. Pipeline state is
// always re-derived from these fields, never carried in memory.
type StockLedgerEntry struct {
	ID          int    `gorm:"primary_key" json:"id"`
	CompanyName string `gorm:"size:140;index" json:"company_name"`
	BranchId    string `gorm:"size:140" json:"branch_id"`

	VoucherType string `gorm:"size:140;index:idx_sle_voucher,priority:1;not null" json:"voucher_type"`
	VoucherName string `gorm:"size:140;index:idx_sle_voucher,priority:2;not null" json:"voucher_name"`
	ItemCode    string `gorm:"size:140;index;not null" json:"item_code"`
	Warehouse   string `gorm:"size:140" json:"warehouse"`

	ActualQty     decimal.Decimal `gorm:"type:decimal(21,9)" json:"actual_qty"`
	QtyAfterTxn   decimal.Decimal `gorm:"type:decimal(21,9)" json:"qty_after_transaction"`
	ValuationRate decimal.Decimal `gorm:"type:decimal(21,9)" json:"valuation_rate"`
	PostingDate   time.Time       `json:"posting_date"`

	// Remote submission bookkeeping.
	SladeId                        string `gorm:"size:64;index" json:"slade_id"`
	OperationType                  string `gorm:"size:40" json:"operation_type"`
	SubmittedSuccessfully          *bool  `gorm:"default:0" json:"submitted_successfully"`
	InventorySubmittedSuccessfully *bool  `gorm:"default:0" json:"inventory_submitted_successfully"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (e *StockLedgerEntry) IsSubmitted() bool {
	return e.SubmittedSuccessfully != nil && *e.SubmittedSuccessfully
}

func (e *StockLedgerEntry) LinesSubmitted() bool {
	return e.InventorySubmittedSuccessfully != nil && *e.InventorySubmittedSuccessfully
}

// StockEntryVoucher carries the extra fields of an ERP Stock Entry that the
// ledger row alone cannot answer, chiefly the entry type.
type StockEntryVoucher struct {
	ID          int       `gorm:"primary_key" json:"id"`
	Name        string    `gorm:"size:140;uniqueIndex;not null" json:"name"`
	CompanyName string    `gorm:"size:140;index" json:"company_name"`
	EntryType   string    `gorm:"size:60;not null" json:"entry_type"`
	IsReturn    *bool     `gorm:"default:0" json:"is_return"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// StockOperationType caches the remote id of a gateway operation type per
// (operation, warehouse). The gateway requires operations to reference one
// by id; creating it remotely is done once and the id reused from here.
type StockOperationType struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Operation string    `gorm:"size:40;uniqueIndex:idx_optype_op_wh,priority:1;not null" json:"operation"`
	Warehouse string    `gorm:"size:140;uniqueIndex:idx_optype_op_wh,priority:2" json:"warehouse"`
	SladeId   string    `gorm:"size:64;not null" json:"slade_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetOperationType(ctx context.Context, db *gorm.DB, operation, warehouse string) (*StockOperationType, error) {
	var opType StockOperationType
	err := db.WithContext(ctx).
		Where("operation = ? AND warehouse = ?", operation, warehouse).
		First(&opType).Error
	if err != nil {
		return nil, err
	}
	return &opType, nil
}

func SaveOperationType(ctx context.Context, db *gorm.DB, operation, warehouse, sladeId string) error {
	return db.WithContext(ctx).Create(&StockOperationType{
		Operation: operation,
		Warehouse: warehouse,
		SladeId:   sladeId,
	}).Error
}

// Bin is the per item+warehouse quantity snapshot used when a stock take
// line must report the total on-hand quantity across warehouses.
type Bin struct {
	ID        int             `gorm:"primary_key" json:"id"`
	ItemCode  string          `gorm:"size:140;uniqueIndex:idx_bin_item_wh,priority:1;not null" json:"item_code"`
	Warehouse string          `gorm:"size:140;uniqueIndex:idx_bin_item_wh,priority:2;not null" json:"warehouse"`
	ActualQty decimal.Decimal `gorm:"type:decimal(21,9)" json:"actual_qty"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// SaveBinQuantity records the balance the gateway reported for an item at
// one warehouse.
func SaveBinQuantity(ctx context.Context, db *gorm.DB, itemCode, warehouse string, qty decimal.Decimal) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "item_code"}, {Name: "warehouse"}},
			DoUpdates: clause.AssignmentColumns([]string{"actual_qty"}),
		}).
		Create(&Bin{ItemCode: itemCode, Warehouse: warehouse, ActualQty: qty}).Error
}

// SumBinQuantities totals on-hand quantity for an item across all bins.
// Negative bins participate in the sum as-is.
func SumBinQuantities(bins []Bin) decimal.Decimal {
	total := decimal.Zero
	for _, bin := range bins {
		total = total.Add(bin.ActualQty)
	}
	return total
}

func GetBinsForItem(ctx context.Context, db *gorm.DB, itemCode string) ([]Bin, error) {
	var bins []Bin
	err := db.WithContext(ctx).Where("item_code = ?", itemCode).Find(&bins).Error
	return bins, err
}

func GetStockEntryVoucher(ctx context.Context, db *gorm.DB, name string) (*StockEntryVoucher, error) {
	var voucher StockEntryVoucher
	err := db.WithContext(ctx).Where("name = ?", name).First(&voucher).Error
	if err != nil {
		return nil, err
	}
	return &voucher, nil
}

// CreateCorrectiveStockTake writes the local reconciliation row a
// corrective submission is built from. The pipeline reads movement state
// only from ledger rows, so the document must exist locally before its
// header job is queued.
func CreateCorrectiveStockTake(ctx context.Context, db *gorm.DB, companyName, branchId, voucherName, itemCode, warehouse string, qty decimal.Decimal) error {
	entry := StockLedgerEntry{
		CompanyName: companyName,
		BranchId:    branchId,
		VoucherType: DocTypeStockReconciliation,
		VoucherName: voucherName,
		ItemCode:    itemCode,
		Warehouse:   warehouse,
		ActualQty:   qty,
		QtyAfterTxn: qty,
		PostingDate: time.Now().UTC(),
	}
	return db.WithContext(ctx).Create(&entry).Error
}

// LedgerEntriesForVoucher loads every ledger row belonging to one source
// document, ordered for deterministic line submission.
func LedgerEntriesForVoucher(ctx context.Context, db *gorm.DB, voucherType, voucherName string) ([]StockLedgerEntry, error) {
	var entries []StockLedgerEntry
	err := db.WithContext(ctx).
		Where("voucher_type = ? AND voucher_name = ?", voucherType, voucherName).
		Order("id asc").
		Find(&entries).Error
	return entries, err
}

// MarkHeaderSubmitted stores the remote document id issued for the header.
func (e *StockLedgerEntry) MarkHeaderSubmitted(ctx context.Context, db *gorm.DB, sladeId, operationType string) error {
	return db.WithContext(ctx).Model(&StockLedgerEntry{}).
		Where("voucher_type = ? AND voucher_name = ?", e.VoucherType, e.VoucherName).
		Updates(map[string]interface{}{
			"slade_id":       sladeId,
			"operation_type": operationType,
		}).Error
}

func (e *StockLedgerEntry) MarkLinesSubmitted(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Model(&StockLedgerEntry{}).
		Where("voucher_type = ? AND voucher_name = ?", e.VoucherType, e.VoucherName).
		Update("inventory_submitted_successfully", true).Error
}

func (e *StockLedgerEntry) MarkSubmitted(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Model(&StockLedgerEntry{}).
		Where("voucher_type = ? AND voucher_name = ?", e.VoucherType, e.VoucherName).
		Update("submitted_successfully", true).Error
}

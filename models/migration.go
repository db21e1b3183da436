package models

import "gorm.io/gorm"

// Migrate runs AutoMigrate for every table the service owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&EtimsSettings{},
		&EtimsRoute{},
		&IntegrationRequest{},
		&StockLedgerEntry{},
		&StockEntryVoucher{},
		&StockOperationType{},
		&Bin{},
		&Item{},
		&Company{},
		&Branch{},
		&Department{},
		&Warehouse{},
		&Workstation{},
		&Currency{},
		&ModeOfPayment{},
		&UnitOfMeasure{},
		&TaxType{},
		&Customer{},
		&SalesInvoice{},
		&SalesInvoiceItem{},
	)
}

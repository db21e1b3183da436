package models

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ResolveLink resolves a local document reference to its gateway id. It is
// the typed replacement for free-form link traversal: each supported
// document type maps to a concrete table and column.
func ResolveLink(ctx context.Context, db *gorm.DB, docType, name string) (string, error) {
	var sladeId string
	var err error

	switch docType {
	case "Item":
		var item Item
		err = db.WithContext(ctx).Select("slade_id").Where("item_code = ?", name).First(&item).Error
		sladeId = item.SladeId
	case "Customer":
		var customer Customer
		err = db.WithContext(ctx).Select("slade_id").Where("name = ?", name).First(&customer).Error
		sladeId = customer.SladeId
	case "Warehouse":
		var warehouse Warehouse
		err = db.WithContext(ctx).Select("slade_id").Where("name = ?", name).First(&warehouse).Error
		sladeId = warehouse.SladeId
	case "Branch":
		var branch Branch
		err = db.WithContext(ctx).Select("slade_id").Where("name = ?", name).First(&branch).Error
		sladeId = branch.SladeId
	case "Currency":
		var currency Currency
		err = db.WithContext(ctx).Select("slade_id").Where("iso_code = ?", name).First(&currency).Error
		sladeId = currency.SladeId
	case "Mode of Payment":
		var mop ModeOfPayment
		err = db.WithContext(ctx).Select("slade_id").Where("name = ?", name).First(&mop).Error
		sladeId = mop.SladeId
	case DocTypeSalesInvoice:
		var invoice SalesInvoice
		err = db.WithContext(ctx).Select("slade_id").Where("name = ?", name).First(&invoice).Error
		sladeId = invoice.SladeId
	default:
		return "", fmt.Errorf("unsupported link type %q", docType)
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("%s %q not found", docType, name)
	}
	if err != nil {
		return "", err
	}
	if sladeId == "" {
		return "", fmt.Errorf("%s %q has no gateway id", docType, name)
	}
	return sladeId, nil
}

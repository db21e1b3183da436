package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Item is the local product catalog row enriched with the gateway ids
// needed before its movements can be reported.
type Item struct {
	ID          int    `gorm:"primary_key" json:"id"`
	ItemCode    string `gorm:"size:140;uniqueIndex;not null" json:"item_code" binding:"required"`
	ItemName    string `gorm:"size:255;not null" json:"item_name" binding:"required"`
	Description string `gorm:"type:text" json:"description"`

	SladeId            string `gorm:"size:64;index" json:"slade_id"`
	ItemClassification string `gorm:"size:64" json:"item_classification"`
	TaxCode            string `gorm:"size:10" json:"tax_code"`
	UnitOfMeasure      string `gorm:"size:60" json:"unit_of_measure"`
	PackagingUnit      string `gorm:"size:60" json:"packaging_unit"`
	CountryOfOrigin    string `gorm:"size:2" json:"country_of_origin"`
	ProductType        string `gorm:"size:10" json:"product_type"`

	SellingPrice decimal.Decimal `gorm:"type:decimal(21,9)" json:"selling_price"`
	Registered   *bool           `gorm:"default:0" json:"registered"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

var ErrItemNotRegistered = errors.New("item has no gateway id; register it first")

func GetItemByCode(ctx context.Context, db *gorm.DB, itemCode string) (*Item, error) {
	var item Item
	err := db.WithContext(ctx).Where("item_code = ?", itemCode).First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// RequireSladeId returns the item's gateway id or ErrItemNotRegistered.
func (i *Item) RequireSladeId() (string, error) {
	if i.SladeId == "" {
		return "", ErrItemNotRegistered
	}
	return i.SladeId, nil
}

func (i *Item) MarkRegistered(ctx context.Context, db *gorm.DB, sladeId string) error {
	return db.WithContext(ctx).Model(&Item{}).
		Where("id = ?", i.ID).
		Updates(map[string]interface{}{
			"slade_id":   sladeId,
			"registered": true,
		}).Error
}

// UnregisteredItems lists items that still lack a gateway id, for the
// registration sweep.
func UnregisteredItems(ctx context.Context, db *gorm.DB, limit int) ([]Item, error) {
	var items []Item
	err := db.WithContext(ctx).
		Where("slade_id = '' OR slade_id IS NULL").
		Order("id asc").
		Limit(limit).
		Find(&items).Error
	return items, err
}

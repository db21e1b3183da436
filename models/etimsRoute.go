package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EtimsRoute maps a capability key to a gateway URL path. Paths may carry
// `{placeholder}` segments filled from the request payload at dispatch time.
type EtimsRoute struct {
	ID              int        `gorm:"primary_key" json:"id"`
	RouteKey        string     `gorm:"size:140;uniqueIndex:idx_route_key_vendor,priority:1;not null" json:"route_key" binding:"required"`
	Vendor          string     `gorm:"size:100;uniqueIndex:idx_route_key_vendor,priority:2;not null" json:"vendor"`
	Path            string     `gorm:"size:255;not null" json:"path" binding:"required"`
	LastRequestDate *time.Time `json:"last_request_date"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

var ErrRouteNotFound = errors.New("no route configured for key")

// GetRoutePath looks up the URL path for a capability key under the
// Slade360 vendor.
func GetRoutePath(ctx context.Context, db *gorm.DB, routeKey string) (string, error) {
	var route EtimsRoute
	err := db.WithContext(ctx).
		Where("route_key = ? AND vendor = ?", routeKey, VendorSlade360).
		First(&route).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrRouteNotFound
	}
	if err != nil {
		return "", err
	}
	return route.Path, nil
}

// UpdateLastRequestDate stamps the route after a successful call, used by
// incremental pulls that fetch only records changed since the last run.
func UpdateLastRequestDate(ctx context.Context, db *gorm.DB, routeKey string, at time.Time) error {
	return db.WithContext(ctx).Model(&EtimsRoute{}).
		Where("route_key = ? AND vendor = ?", routeKey, VendorSlade360).
		Update("last_request_date", at).Error
}

// DefaultRoutes is the seed route table for the Slade360 gateway.
var DefaultRoutes = []EtimsRoute{
	{RouteKey: "BhfSearchReq", Vendor: VendorSlade360, Path: "/api/company/branches/"},
	{RouteKey: "DeptSearchReq", Vendor: VendorSlade360, Path: "/api/company/departments/"},
	{RouteKey: "OrgSearchReq", Vendor: VendorSlade360, Path: "/api/company/organisations/"},
	{RouteKey: "CurrencySearchReq", Vendor: VendorSlade360, Path: "/api/setup/currencies/"},
	{RouteKey: "PmtMtdSearchReq", Vendor: VendorSlade360, Path: "/api/setup/payment-methods/"},
	{RouteKey: "UOMSearchReq", Vendor: VendorSlade360, Path: "/api/setup/units-of-measure/"},
	{RouteKey: "TaxSearchReq", Vendor: VendorSlade360, Path: "/api/setup/taxes/"},
	{RouteKey: "WorkstationSearchReq", Vendor: VendorSlade360, Path: "/api/company/workstations/"},
	{RouteKey: "WarehouseSearchReq", Vendor: VendorSlade360, Path: "/api/inventory/warehouses/"},
	{RouteKey: "LocationsSearchReq", Vendor: VendorSlade360, Path: "/api/inventory/locations/"},

	{RouteKey: "ItemSearchReq", Vendor: VendorSlade360, Path: "/api/inventory/products/"},
	{RouteKey: "ItemSaveReq", Vendor: VendorSlade360, Path: "/api/inventory/products/"},
	{RouteKey: "ItemsSearchReq", Vendor: VendorSlade360, Path: "/api/inventory/inventory/"},
	{RouteKey: "ItemClsSearchReq", Vendor: VendorSlade360, Path: "/api/setup/item-classifications/"},

	{RouteKey: "CustSearchReq", Vendor: VendorSlade360, Path: "/api/partners/customers/"},
	{RouteKey: "BhfCustSaveReq", Vendor: VendorSlade360, Path: "/api/partners/customers/"},

	{RouteKey: "TrnsSalesSaveWrReq", Vendor: VendorSlade360, Path: "/api/sales/sales-invoices/"},
	{RouteKey: "SalesLineSaveReq", Vendor: VendorSlade360, Path: "/api/sales/sales-invoice-lines/"},
	{RouteKey: "SalesTransitionReq", Vendor: VendorSlade360, Path: "/api/sales/sales-invoices/{id}/transition/"},
	{RouteKey: "SalesSignInvReq", Vendor: VendorSlade360, Path: "/api/sales/sales-invoices/{id}/sign/"},
	{RouteKey: "SalesReceiptReq", Vendor: VendorSlade360, Path: "/api/sales/sales-receipts/"},

	{RouteKey: "StockMasterSaveReq", Vendor: VendorSlade360, Path: "/api/inventory/inventory-adjustments/"},
	{RouteKey: "StockIOSaveReq", Vendor: VendorSlade360, Path: "/api/inventory/inventory-operations/"},
	{RouteKey: "StockIOLineReq", Vendor: VendorSlade360, Path: "/api/inventory/inventory-operation-lines/"},
	{RouteKey: "StockMasterLineReq", Vendor: VendorSlade360, Path: "/api/inventory/inventory-adjustment-lines/"},
	{RouteKey: "StockOperationTransitionReq", Vendor: VendorSlade360, Path: "/api/inventory/inventory-operations/{id}/transition/"},
	{RouteKey: "StockAdjustmentTransitionReq", Vendor: VendorSlade360, Path: "/api/inventory/inventory-adjustments/{id}/transition/"},
	{RouteKey: "StockBalanceReq", Vendor: VendorSlade360, Path: "/api/inventory/inventory/"},
	{RouteKey: "OperationTypesReq", Vendor: VendorSlade360, Path: "/api/inventory/operation-types/"},

	{RouteKey: "UserDetailsReq", Vendor: VendorSlade360, Path: "/api/users/me/"},
}

// SeedRoutes inserts any missing default routes without touching rows an
// operator has already customized.
func SeedRoutes(ctx context.Context, db *gorm.DB) error {
	routes := make([]EtimsRoute, len(DefaultRoutes))
	copy(routes, DefaultRoutes)
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&routes).Error
}

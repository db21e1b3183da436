package models

// Integration request lifecycle. Requests are append-only: a record is
// created as Queued and finalized exactly once.
const (
	RequestStatusQueued    = "Queued"
	RequestStatusCompleted = "Completed"
	RequestStatusFailed    = "Failed"
	RequestStatusCancelled = "Cancelled"
)

// Source document types that feed the stock pipeline.
const (
	DocTypeStockReconciliation = "Stock Reconciliation"
	DocTypePurchaseReceipt     = "Purchase Receipt"
	DocTypePurchaseInvoice     = "Purchase Invoice"
	DocTypeDeliveryNote        = "Delivery Note"
	DocTypeSalesInvoice        = "Sales Invoice"
	DocTypeStockEntry          = "Stock Entry"
)

// Remote operation names recognized by the tax authority gateway.
const (
	OperationStockTake       = "stock_take"
	OperationGRN             = "grn"
	OperationGDN             = "gdn"
	OperationPurchaseInvoice = "purchases_invoice"
	OperationSalesInvoice    = "sales_invoice"
	OperationReturnInwards   = "return_inwards"
	OperationReturnOutwards  = "return_outwards"
	OperationWarehouseIn     = "warehouse_in"
	OperationWarehouseOut    = "warehouse_out"
)

// Operation directions. Internal operations (stock takes) use the
// adjustment endpoints instead of the operation endpoints.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
	DirectionInternal = "internal"
)

const (
	StockEntryTypeMaterialTransfer = "Material Transfer"
	StockEntryTypeMaterialReceipt  = "Material Receipt"
	StockEntryTypeMaterialIssue    = "Material Issue"
)

const VendorSlade360 = "VSCU Slade 360"

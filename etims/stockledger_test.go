package etims

import (
	"testing"

	"bitbucket.org/mmdatafocus/etims_backend/models"
	"github.com/shopspring/decimal"
)

// NOTE: These tests are intentionally DB-free. They validate the pipeline
// semantics that must hold regardless of storage:
// - document classification and direction mapping are total and stable
// - pipeline position is derived purely from persisted fields
// - unusable remote ids are rejected before they can be stored

func TestMapDocumentType(t *testing.T) {
	cases := []struct {
		name        string
		voucherType string
		entryType   string
		isReturn    bool
		qtyNegative bool
		want        string
		wantErr     bool
	}{
		{name: "stock reconciliation", voucherType: models.DocTypeStockReconciliation, want: models.OperationStockTake},
		{name: "purchase receipt", voucherType: models.DocTypePurchaseReceipt, want: models.OperationGRN},
		{name: "purchase receipt return", voucherType: models.DocTypePurchaseReceipt, isReturn: true, want: models.OperationReturnOutwards},
		{name: "purchase invoice", voucherType: models.DocTypePurchaseInvoice, want: models.OperationPurchaseInvoice},
		{name: "delivery note", voucherType: models.DocTypeDeliveryNote, want: models.OperationGDN},
		{name: "delivery note return", voucherType: models.DocTypeDeliveryNote, isReturn: true, want: models.OperationReturnInwards},
		{name: "sales invoice", voucherType: models.DocTypeSalesInvoice, want: models.OperationSalesInvoice},
		{name: "sales invoice return", voucherType: models.DocTypeSalesInvoice, isReturn: true, want: models.OperationReturnInwards},
		{name: "stock entry receipt", voucherType: models.DocTypeStockEntry, entryType: models.StockEntryTypeMaterialReceipt, want: models.OperationWarehouseIn},
		{name: "stock entry issue", voucherType: models.DocTypeStockEntry, entryType: models.StockEntryTypeMaterialIssue, qtyNegative: true, want: models.OperationWarehouseOut},
		{name: "material transfer excluded", voucherType: models.DocTypeStockEntry, entryType: models.StockEntryTypeMaterialTransfer, wantErr: true},
		{name: "unknown voucher", voucherType: "Journal Entry", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := MapDocumentType(tc.voucherType, tc.entryType, tc.isReturn, tc.qtyNegative)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestOperationDirection(t *testing.T) {
	incoming := []string{models.OperationGRN, models.OperationPurchaseInvoice, models.OperationReturnInwards, models.OperationWarehouseIn}
	for _, op := range incoming {
		if got := OperationDirection(op); got != models.DirectionIncoming {
			t.Errorf("OperationDirection(%q) = %q, want incoming", op, got)
		}
	}

	outgoing := []string{models.OperationGDN, models.OperationSalesInvoice, models.OperationReturnOutwards, models.OperationWarehouseOut}
	for _, op := range outgoing {
		if got := OperationDirection(op); got != models.DirectionOutgoing {
			t.Errorf("OperationDirection(%q) = %q, want outgoing", op, got)
		}
	}

	if got := OperationDirection(models.OperationStockTake); got != models.DirectionInternal {
		t.Errorf("OperationDirection(stock_take) = %q, want internal", got)
	}
	if got := OperationDirection("bogus"); got != "" {
		t.Errorf("OperationDirection(bogus) = %q, want empty", got)
	}
}

func TestLineQuantity_StockTakeSumsBins(t *testing.T) {
	bins := []models.Bin{
		{ItemCode: "SKU-1", Warehouse: "Main", ActualQty: decimal.NewFromInt(3)},
		{ItemCode: "SKU-1", Warehouse: "Transit", ActualQty: decimal.NewFromInt(-1)},
		{ItemCode: "SKU-1", Warehouse: "Backroom", ActualQty: decimal.NewFromInt(4)},
	}

	got := LineQuantity(models.OperationStockTake, decimal.NewFromInt(99), bins)
	if !got.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("stock take quantity = %s, want 6", got)
	}
}

func TestLineQuantity_MovementUsesAbsoluteQty(t *testing.T) {
	got := LineQuantity(models.OperationWarehouseOut, decimal.NewFromInt(-5), nil)
	if !got.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("movement quantity = %s, want 5", got)
	}
}

func TestValidSladeID(t *testing.T) {
	valid := "0e4a5fbe-20c2-47a9-b543-a2bdfad6b2b7"
	if !ValidSladeID(valid) {
		t.Errorf("ValidSladeID(%q) = false, want true", valid)
	}

	for _, id := range []string{"", "0", "not-a-uuid", "12345"} {
		if ValidSladeID(id) {
			t.Errorf("ValidSladeID(%q) = true, want false", id)
		}
	}
}

func boolPtr(b bool) *bool { return &b }

func TestNextStep(t *testing.T) {
	cases := []struct {
		name  string
		entry models.StockLedgerEntry
		want  string
	}{
		{
			name:  "fresh document starts at header",
			entry: models.StockLedgerEntry{},
			want:  StepStockSubmitHeader,
		},
		{
			name:  "header done moves to lines",
			entry: models.StockLedgerEntry{SladeId: "0e4a5fbe-20c2-47a9-b543-a2bdfad6b2b7"},
			want:  StepStockSubmitLines,
		},
		{
			name: "lines done moves to transition",
			entry: models.StockLedgerEntry{
				SladeId:                        "0e4a5fbe-20c2-47a9-b543-a2bdfad6b2b7",
				InventorySubmittedSuccessfully: boolPtr(true),
			},
			want: StepStockTransition,
		},
		{
			name: "submitted document is terminal",
			entry: models.StockLedgerEntry{
				SladeId:                        "0e4a5fbe-20c2-47a9-b543-a2bdfad6b2b7",
				InventorySubmittedSuccessfully: boolPtr(true),
				SubmittedSuccessfully:          boolPtr(true),
			},
			want: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NextStep(&tc.entry); got != tc.want {
				t.Fatalf("NextStep = %q, want %q", got, tc.want)
			}
		})
	}
}

// NextStep must return the same answer no matter how many times it is
// asked; the entry point relies on this to make double deliveries safe.
func TestNextStep_Deterministic(t *testing.T) {
	entry := models.StockLedgerEntry{SladeId: "0e4a5fbe-20c2-47a9-b543-a2bdfad6b2b7"}
	first := NextStep(&entry)
	for i := 0; i < 10; i++ {
		if got := NextStep(&entry); got != first {
			t.Fatalf("NextStep changed from %q to %q on call %d", first, got, i)
		}
	}
}

// After a transition succeeds, every distinct item and warehouse pair of
// the voucher gets exactly one balance check.
func TestBalanceCheckTargets(t *testing.T) {
	entries := []models.StockLedgerEntry{
		{ItemCode: "SKU-1", Warehouse: "Main"},
		{ItemCode: "SKU-1", Warehouse: "Main"},
		{ItemCode: "SKU-1", Warehouse: "Transit"},
		{ItemCode: "SKU-2", Warehouse: "Main"},
	}

	targets := balanceCheckTargets(entries)
	if len(targets) != 3 {
		t.Fatalf("got %d targets, want 3", len(targets))
	}

	seen := map[string]bool{}
	for _, target := range targets {
		seen[target.ItemCode+"|"+target.Warehouse] = true
	}
	for _, want := range []string{"SKU-1|Main", "SKU-1|Transit", "SKU-2|Main"} {
		if !seen[want] {
			t.Errorf("missing target %s", want)
		}
	}
}

func TestRemoteBalance(t *testing.T) {
	resp := &Response{Data: map[string]interface{}{
		"results": []interface{}{
			map[string]interface{}{"quantity": float64(7.5)},
		},
	}}
	if got := remoteBalance(resp); !got.Equal(decimal.NewFromFloat(7.5)) {
		t.Fatalf("balance = %s, want 7.5", got)
	}

	empty := &Response{Data: map[string]interface{}{"results": []interface{}{}}}
	if got := remoteBalance(empty); !got.IsZero() {
		t.Fatalf("empty result balance = %s, want 0", got)
	}
}

func TestRouteSelectionByDirection(t *testing.T) {
	if got := headerRouteKey(models.OperationStockTake); got != "StockMasterSaveReq" {
		t.Errorf("stock take header route = %q", got)
	}
	if got := headerRouteKey(models.OperationGRN); got != "StockIOSaveReq" {
		t.Errorf("grn header route = %q", got)
	}
	if got := lineParentField(models.OperationStockTake); got != "inventory_adjustment" {
		t.Errorf("stock take line parent field = %q", got)
	}
	if got := lineParentField(models.OperationGDN); got != "inventory_operation" {
		t.Errorf("gdn line parent field = %q", got)
	}
	if got := transitionRouteKey(models.OperationStockTake); got != "StockAdjustmentTransitionReq" {
		t.Errorf("stock take transition route = %q", got)
	}
	if got := transitionRouteKey(models.OperationWarehouseIn); got != "StockOperationTransitionReq" {
		t.Errorf("warehouse in transition route = %q", got)
	}
}

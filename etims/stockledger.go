package etims

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/etims_backend/config"
	"bitbucket.org/mmdatafocus/etims_backend/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func init() {
	RegisterStep(StepStockSubmitHeader, handleStockSubmitHeader)
	RegisterStep(StepStockSubmitLines, handleStockSubmitLines)
	RegisterStep(StepStockTransition, handleStockTransition)
	RegisterStep(StepStockBalance, handleStockBalanceCheck)
}

// MapDocumentType classifies a source document into the gateway operation
// name. Stock Entries split by quantity sign; returns flip to the return
// operations.
func MapDocumentType(voucherType, entryType string, isReturn bool, qtyNegative bool) (string, error) {
	switch voucherType {
	case models.DocTypeStockReconciliation:
		return models.OperationStockTake, nil
	case models.DocTypePurchaseReceipt:
		if isReturn {
			return models.OperationReturnOutwards, nil
		}
		return models.OperationGRN, nil
	case models.DocTypePurchaseInvoice:
		if isReturn {
			return models.OperationReturnOutwards, nil
		}
		return models.OperationPurchaseInvoice, nil
	case models.DocTypeDeliveryNote:
		if isReturn {
			return models.OperationReturnInwards, nil
		}
		return models.OperationGDN, nil
	case models.DocTypeSalesInvoice:
		if isReturn {
			return models.OperationReturnInwards, nil
		}
		return models.OperationSalesInvoice, nil
	case models.DocTypeStockEntry:
		if entryType == models.StockEntryTypeMaterialTransfer {
			return "", fmt.Errorf("material transfer entries are not reported")
		}
		if qtyNegative {
			return models.OperationWarehouseOut, nil
		}
		return models.OperationWarehouseIn, nil
	default:
		return "", fmt.Errorf("unsupported voucher type %q", voucherType)
	}
}

// OperationDirection maps an operation name to its movement direction.
// Internal operations go through the adjustment endpoints.
func OperationDirection(operation string) string {
	switch operation {
	case models.OperationGRN,
		models.OperationPurchaseInvoice,
		models.OperationReturnInwards,
		models.OperationWarehouseIn:
		return models.DirectionIncoming
	case models.OperationGDN,
		models.OperationSalesInvoice,
		models.OperationReturnOutwards,
		models.OperationWarehouseOut:
		return models.DirectionOutgoing
	case models.OperationStockTake:
		return models.DirectionInternal
	default:
		return ""
	}
}

// LineQuantity computes the quantity a line reports. Stock takes report
// the total on-hand quantity across all warehouses; every other operation
// reports the absolute moved quantity.
func LineQuantity(operation string, actualQty decimal.Decimal, bins []models.Bin) decimal.Decimal {
	if operation == models.OperationStockTake {
		return models.SumBinQuantities(bins)
	}
	return actualQty.Abs()
}

// ValidSladeID rejects remote ids that the gateway occasionally emits on
// partial failures: non-UUID strings and the literal "0". Storing one of
// these would poison every later step.
func ValidSladeID(id string) bool {
	if id == "" || id == "0" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// NextStep re-derives the pipeline position of a document purely from its
// persisted fields. Memory never carries pipeline state between steps.
func NextStep(entry *models.StockLedgerEntry) string {
	if entry.IsSubmitted() {
		return ""
	}
	if entry.SladeId == "" {
		return StepStockSubmitHeader
	}
	if !entry.LinesSubmitted() {
		return StepStockSubmitLines
	}
	return StepStockTransition
}

// headerRouteKey and friends pick the endpoint family by direction:
// internal movements use the adjustment endpoints.
func headerRouteKey(operation string) string {
	if OperationDirection(operation) == models.DirectionInternal {
		return "StockMasterSaveReq"
	}
	return "StockIOSaveReq"
}

func lineRouteKey(operation string) string {
	if OperationDirection(operation) == models.DirectionInternal {
		return "StockMasterLineReq"
	}
	return "StockIOLineReq"
}

func lineParentField(operation string) string {
	if OperationDirection(operation) == models.DirectionInternal {
		return "inventory_adjustment"
	}
	return "inventory_operation"
}

func transitionRouteKey(operation string) string {
	if OperationDirection(operation) == models.DirectionInternal {
		return "StockAdjustmentTransitionReq"
	}
	return "StockOperationTransitionReq"
}

// resolveOperationType returns the remote id of the operation type for
// (operation, warehouse), creating it on the gateway the first time and
// caching the id locally for every later movement.
func resolveOperationType(ctx context.Context, p *Pipeline, job config.EtimsJob, operation, warehouse string) (string, error) {
	if cached, err := models.GetOperationType(ctx, p.db, operation, warehouse); err == nil {
		return cached.SladeId, nil
	}

	resp, err := p.exec.Execute(ctx, RequestSpec{
		RouteKey: "OperationTypesReq",
		Method:   http.MethodGet,
		Payload: map[string]interface{}{
			"operation_name": operation,
			"active":         true,
		},
		Tenant:       p.tenant,
		DocumentType: job.DocumentType,
		DocumentName: job.DocumentName,
	})
	if err != nil {
		return "", err
	}

	remoteId := ""
	for _, result := range resp.Results() {
		if id, ok := result["id"].(string); ok && ValidSladeID(id) {
			remoteId = id
			break
		}
	}

	if remoteId == "" {
		created, err := p.exec.Execute(ctx, RequestSpec{
			RouteKey: "OperationTypesReq",
			Method:   http.MethodPost,
			Payload: map[string]interface{}{
				"operation_name":      operation,
				"operation_direction": OperationDirection(operation),
				"warehouse":           warehouse,
			},
			Tenant:       p.tenant,
			DocumentType: job.DocumentType,
			DocumentName: job.DocumentName,
		})
		if err != nil {
			return "", err
		}
		remoteId = created.ID()
		if !ValidSladeID(remoteId) {
			return "", &DataValidationError{
				Detail: fmt.Sprintf("gateway returned unusable operation type id %q", remoteId),
			}
		}
	}

	if err := models.SaveOperationType(ctx, p.db, operation, warehouse, remoteId); err != nil {
		logg := config.GetLogger()
		config.LogError(logg, "etims", "resolveOperationType", "cache operation type", operation, err)
	}
	return remoteId, nil
}

// EnqueueStockMovement is the entry point for a posted stock document.
// The queued job re-derives where the document stands from its persisted
// fields, so retries and double deliveries converge instead of duplicating
// work.
func EnqueueStockMovement(ctx context.Context, tenant TenantContext, voucherType, voucherName string) error {
	return EnqueueStep(ctx, StepStockSubmitHeader, tenant, voucherType, voucherName, nil)
}

func loadMovement(ctx context.Context, p *Pipeline, job config.EtimsJob) (*models.StockLedgerEntry, []models.StockLedgerEntry, string, error) {
	entries, err := models.LedgerEntriesForVoucher(ctx, p.db, job.DocumentType, job.DocumentName)
	if err != nil {
		return nil, nil, "", err
	}
	if len(entries) == 0 {
		return nil, nil, "", &DataValidationError{
			Detail: fmt.Sprintf("no ledger entries for %s %s", job.DocumentType, job.DocumentName),
		}
	}
	head := &entries[0]

	operation := head.OperationType
	if operation == "" {
		entryType := ""
		isReturn := false
		if job.DocumentType == models.DocTypeStockEntry {
			voucher, verr := models.GetStockEntryVoucher(ctx, p.db, job.DocumentName)
			if verr != nil {
				return nil, nil, "", &DataValidationError{
					Detail: fmt.Sprintf("stock entry %s not found", job.DocumentName),
					Err:    verr,
				}
			}
			entryType = voucher.EntryType
			isReturn = voucher.IsReturn != nil && *voucher.IsReturn
		}
		operation, err = MapDocumentType(job.DocumentType, entryType, isReturn, head.ActualQty.IsNegative())
		if err != nil {
			return nil, nil, "", &DataValidationError{Detail: err.Error(), Err: err}
		}
	}
	return head, entries, operation, nil
}

// handleStockSubmitHeader submits the movement header. When the document
// has already advanced past this step it simply forwards to the right one,
// which makes the entry point safe to call any number of times.
func handleStockSubmitHeader(ctx context.Context, p *Pipeline, job config.EtimsJob) error {
	head, _, operation, err := loadMovement(ctx, p, job)
	if err != nil {
		return err
	}

	switch NextStep(head) {
	case "":
		return nil
	case StepStockSubmitLines:
		return handleStockSubmitLines(ctx, p, job)
	case StepStockTransition:
		return handleStockTransition(ctx, p, job)
	}

	payload := map[string]interface{}{
		"reference_number":         job.DocumentName,
		"branch":                   p.settings.BranchId,
		"source_organisation_unit": p.settings.DepartmentId,
	}
	if OperationDirection(operation) != models.DirectionInternal {
		opTypeId, err := resolveOperationType(ctx, p, job, operation, head.Warehouse)
		if err != nil {
			return err
		}
		payload["operation_type"] = opTypeId
		payload["operation_direction"] = OperationDirection(operation)
	}

	resp, err := p.exec.Execute(ctx, RequestSpec{
		RouteKey:     headerRouteKey(operation),
		Method:       http.MethodPost,
		Payload:      payload,
		Tenant:       p.tenant,
		DocumentType: job.DocumentType,
		DocumentName: job.DocumentName,
	})
	if err != nil {
		return err
	}

	remoteId := resp.ID()
	if !ValidSladeID(remoteId) {
		logg := config.GetLogger()
		config.LogError(logg, "etims", "handleStockSubmitHeader", "invalid remote id", map[string]interface{}{
			"remote_id":     remoteId,
			"document_name": job.DocumentName,
		}, fmt.Errorf("gateway returned unusable id %q", remoteId))
		return &DataValidationError{Detail: fmt.Sprintf("gateway returned unusable id %q", remoteId)}
	}

	if err := head.MarkHeaderSubmitted(ctx, p.db, remoteId, operation); err != nil {
		return err
	}
	return EnqueueStep(ctx, StepStockSubmitLines, p.tenant, job.DocumentType, job.DocumentName, nil)
}

// handleStockSubmitLines submits every ledger line against the header.
func handleStockSubmitLines(ctx context.Context, p *Pipeline, job config.EtimsJob) error {
	head, entries, operation, err := loadMovement(ctx, p, job)
	if err != nil {
		return err
	}
	if head.IsSubmitted() {
		return nil
	}
	if head.SladeId == "" {
		return &DataValidationError{Detail: "lines submitted before header"}
	}

	for i := range entries {
		entry := &entries[i]

		item, err := models.GetItemByCode(ctx, p.db, entry.ItemCode)
		if err != nil {
			return &DataValidationError{Detail: fmt.Sprintf("item %s not found", entry.ItemCode), Err: err}
		}
		productId, err := item.RequireSladeId()
		if err != nil {
			return &DataValidationError{Detail: fmt.Sprintf("item %s not registered", entry.ItemCode), Err: err}
		}

		var bins []models.Bin
		if operation == models.OperationStockTake {
			bins, err = models.GetBinsForItem(ctx, p.db, entry.ItemCode)
			if err != nil {
				return err
			}
		}
		quantity := LineQuantity(operation, entry.ActualQty, bins)

		payload := map[string]interface{}{
			lineParentField(operation): head.SladeId,
			"product":                  productId,
			"quantity":                 quantity,
		}

		_, err = p.exec.Execute(ctx, RequestSpec{
			RouteKey:     lineRouteKey(operation),
			Method:       http.MethodPost,
			Payload:      payload,
			Tenant:       p.tenant,
			DocumentType: job.DocumentType,
			DocumentName: job.DocumentName,
		})
		if err != nil {
			return err
		}
	}

	if err := head.MarkLinesSubmitted(ctx, p.db); err != nil {
		return err
	}
	return EnqueueStep(ctx, StepStockTransition, p.tenant, job.DocumentType, job.DocumentName, nil)
}

// balanceCheckTargets reduces a voucher's ledger rows to one entry per
// distinct item and warehouse pair, the granularity at which remote
// balances are verified.
func balanceCheckTargets(entries []models.StockLedgerEntry) []models.StockLedgerEntry {
	seen := map[string]bool{}
	var targets []models.StockLedgerEntry
	for _, entry := range entries {
		key := entry.ItemCode + "|" + entry.Warehouse
		if seen[key] {
			continue
		}
		seen[key] = true
		targets = append(targets, entry)
	}
	return targets
}

// handleStockTransition moves the remote document to its processed state,
// then queues a balance check for every item the movement touched.
func handleStockTransition(ctx context.Context, p *Pipeline, job config.EtimsJob) error {
	head, entries, operation, err := loadMovement(ctx, p, job)
	if err != nil {
		return err
	}
	if head.IsSubmitted() {
		return nil
	}
	if head.SladeId == "" || !head.LinesSubmitted() {
		return &DataValidationError{Detail: "transition requested before lines were submitted"}
	}

	_, err = p.exec.Execute(ctx, RequestSpec{
		RouteKey: transitionRouteKey(operation),
		Method:   http.MethodPatch,
		Payload: map[string]interface{}{
			"id":             head.SladeId,
			"workflow_state": "processed",
		},
		Tenant:       p.tenant,
		DocumentType: job.DocumentType,
		DocumentName: job.DocumentName,
	})
	if err != nil {
		return err
	}

	if err := head.MarkSubmitted(ctx, p.db); err != nil {
		return err
	}

	// The document is terminal at this point; a lost balance check must
	// not fail the step, it only delays reconciliation until the next one.
	for _, target := range balanceCheckTargets(entries) {
		err := EnqueueStep(ctx, StepStockBalance, p.tenant, "Item", target.ItemCode, map[string]interface{}{
			"warehouse": target.Warehouse,
		})
		if err != nil {
			logg := config.GetLogger()
			config.LogError(logg, "etims", "handleStockTransition", "enqueue balance check", target.ItemCode, err)
		}
	}
	return nil
}

// handleStockBalanceCheck compares the remote on-hand balance for an item
// at one warehouse. A positive balance is recorded locally; zero or less
// queues a corrective stock take built from local ledger rows.
func handleStockBalanceCheck(ctx context.Context, p *Pipeline, job config.EtimsJob) error {
	itemCode := job.DocumentName
	item, err := models.GetItemByCode(ctx, p.db, itemCode)
	if err != nil {
		return &DataValidationError{Detail: fmt.Sprintf("item %s not found", itemCode), Err: err}
	}
	productId, err := item.RequireSladeId()
	if err != nil {
		return &DataValidationError{Detail: fmt.Sprintf("item %s not registered", itemCode), Err: err}
	}

	var meta struct {
		Warehouse string `json:"warehouse"`
	}
	if len(job.Payload) > 0 {
		_ = json.Unmarshal(job.Payload, &meta)
	}

	payload := map[string]interface{}{
		"product": productId,
	}
	if meta.Warehouse != "" {
		locationId, lerr := models.ResolveLink(ctx, p.db, "Warehouse", meta.Warehouse)
		if lerr != nil {
			logg := config.GetLogger()
			config.LogError(logg, "etims", "handleStockBalanceCheck", "resolve warehouse", meta.Warehouse, lerr)
		} else {
			payload["location"] = locationId
		}
	}

	resp, err := p.exec.Execute(ctx, RequestSpec{
		RouteKey:     "StockBalanceReq",
		Method:       http.MethodGet,
		Payload:      payload,
		Tenant:       p.tenant,
		DocumentType: "Item",
		DocumentName: itemCode,
	})
	if err != nil {
		return err
	}

	balance := remoteBalance(resp)
	if balance.LessThanOrEqual(decimal.Zero) {
		bins, berr := models.GetBinsForItem(ctx, p.db, itemCode)
		if berr != nil {
			return berr
		}
		localQty := models.SumBinQuantities(bins)
		voucherName := correctiveStockTakeName(itemCode)

		logg := config.GetLogger()
		logg.WithField("item_code", itemCode).
			WithField("balance", balance.String()).
			WithField("voucher_name", voucherName).
			Warn("remote balance not positive; queueing corrective stock take")

		err := models.CreateCorrectiveStockTake(ctx, p.db, p.tenant.CompanyName, p.tenant.BranchId, voucherName, itemCode, meta.Warehouse, localQty)
		if err != nil {
			return err
		}
		return EnqueueStep(ctx, StepStockSubmitHeader, p.tenant, models.DocTypeStockReconciliation, voucherName, nil)
	}

	if meta.Warehouse != "" {
		if err := models.SaveBinQuantity(ctx, p.db, itemCode, meta.Warehouse, balance); err != nil {
			return err
		}
	}
	return models.UpdateLastRequestDate(ctx, p.db, "StockBalanceReq", time.Now().UTC())
}

func remoteBalance(resp *Response) decimal.Decimal {
	for _, result := range resp.Results() {
		if qty, ok := result["quantity"].(float64); ok {
			return decimal.NewFromFloat(qty)
		}
	}
	return decimal.Zero
}

func correctiveStockTakeName(itemCode string) string {
	return "CORR-" + strings.ToUpper(itemCode) + "-" + time.Now().UTC().Format("20060102150405")
}

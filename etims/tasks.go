package etims

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/etims_backend/config"
	"bitbucket.org/mmdatafocus/etims_backend/models"
	"gorm.io/gorm"
)

const sweepBatchSize = 200

// ResubmitFailedRequests re-queues the pipeline step of every Failed
// request from the last 24 hours. Because each step re-derives document
// state before acting, resubmitting an already-recovered document is a
// no-op.
func ResubmitFailedRequests(ctx context.Context, db *gorm.DB) (int, error) {
	since := time.Now().Add(-24 * time.Hour)
	failed, err := models.FailedRequestsSince(ctx, db, since, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, request := range failed {
		if request.DocumentType == "" || request.DocumentName == "" {
			continue
		}
		tenant := TenantContext{CompanyName: request.CompanyName, BranchId: request.BranchId}

		var step string
		switch request.DocumentType {
		case models.DocTypeSalesInvoice:
			step = StepInvoiceSubmitHeader
		case models.DocTypeStockReconciliation,
			models.DocTypePurchaseReceipt,
			models.DocTypePurchaseInvoice,
			models.DocTypeDeliveryNote,
			models.DocTypeStockEntry:
			step = StepStockSubmitHeader
		case "Item":
			step = StepItemRegister
		default:
			continue
		}

		if err := EnqueueStep(ctx, step, tenant, request.DocumentType, request.DocumentName, nil); err != nil {
			logg := config.GetLogger()
			config.LogError(logg, "etims", "ResubmitFailedRequests", "enqueue", request.ID, err)
			continue
		}
		requeued++
	}
	return requeued, nil
}

// RegisterPendingItems queues registration for items without a gateway id.
func RegisterPendingItems(ctx context.Context, db *gorm.DB, tenant TenantContext) (int, error) {
	items, err := models.UnregisteredItems(ctx, db, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, item := range items {
		if err := EnqueueStep(ctx, StepItemRegister, tenant, "Item", item.ItemCode, nil); err != nil {
			logg := config.GetLogger()
			config.LogError(logg, "etims", "RegisterPendingItems", "enqueue", item.ItemCode, err)
			continue
		}
		queued++
	}
	return queued, nil
}

// ResumeUnsignedInvoices re-queues the chain for invoices that stalled
// before signing completed.
func ResumeUnsignedInvoices(ctx context.Context, db *gorm.DB) (int, error) {
	invoices, err := models.UnsignedInvoices(ctx, db, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, invoice := range invoices {
		tenant := TenantContext{CompanyName: invoice.CompanyName, BranchId: invoice.BranchId}
		if err := EnqueueSalesInvoice(ctx, tenant, invoice.Name); err != nil {
			logg := config.GetLogger()
			config.LogError(logg, "etims", "ResumeUnsignedInvoices", "enqueue", invoice.Name, err)
			continue
		}
		queued++
	}
	return queued, nil
}

// RefreshMasterData queues a pull for every master data target of every
// active tenant.
func RefreshMasterData(ctx context.Context, db *gorm.DB) error {
	var settingsList []models.EtimsSettings
	if err := db.WithContext(ctx).Where("is_active = ?", true).Find(&settingsList).Error; err != nil {
		return err
	}

	for _, settings := range settingsList {
		tenant := tenantFromSettings(&settings)
		for target := range masterDataPulls {
			if err := EnqueueStep(ctx, StepMasterDataPull, tenant, "Master Data", target, nil); err != nil {
				logg := config.GetLogger()
				config.LogError(logg, "etims", "RefreshMasterData", target, settings.CompanyName, err)
			}
		}
	}
	return nil
}

// FetchUserDetails verifies a tenant's credentials by fetching the gateway
// account profile, used on settings save. Department and workstation ids
// present on the profile are backfilled onto settings that lack them.
func FetchUserDetails(ctx context.Context, db *gorm.DB, tenant TenantContext) (map[string]interface{}, error) {
	pipeline, err := NewPipeline(ctx, db, tenant)
	if err != nil {
		return nil, err
	}

	resp, err := pipeline.exec.Execute(ctx, RequestSpec{
		RouteKey:     "UserDetailsReq",
		Method:       "GET",
		Payload:      map[string]interface{}{},
		Tenant:       pipeline.tenant,
		DocumentType: "Settings",
		DocumentName: tenant.CompanyName,
	})
	if err != nil {
		return nil, err
	}

	settings := pipeline.settings
	departmentId := stringField(resp.Data, "default_department")
	workstationId := stringField(resp.Data, "default_workstation")
	if settings.DepartmentId != "" {
		departmentId = ""
	}
	if settings.WorkstationId != "" {
		workstationId = ""
	}
	if err := settings.SaveGatewayIds(ctx, db, departmentId, workstationId); err != nil {
		logg := config.GetLogger()
		config.LogError(logg, "etims", "FetchUserDetails", "backfill gateway ids", tenant.CompanyName, err)
	}
	return resp.Data, nil
}

// sweepResult is logged after each periodic run.
type sweepResult struct {
	Requeued int `json:"requeued"`
	Items    int `json:"items"`
	Invoices int `json:"invoices"`
}

// RunSweeps executes all periodic maintenance passes once.
func RunSweeps(ctx context.Context, db *gorm.DB) {
	logg := config.GetLogger()
	var result sweepResult
	var err error

	if result.Requeued, err = ResubmitFailedRequests(ctx, db); err != nil {
		config.LogError(logg, "etims", "RunSweeps", "resubmit failed requests", nil, err)
	}
	if result.Invoices, err = ResumeUnsignedInvoices(ctx, db); err != nil {
		config.LogError(logg, "etims", "RunSweeps", "resume unsigned invoices", nil, err)
	}

	var settingsList []models.EtimsSettings
	if err := db.WithContext(ctx).Where("is_active = ?", true).Find(&settingsList).Error; err == nil {
		for _, settings := range settingsList {
			n, ierr := RegisterPendingItems(ctx, db, tenantFromSettings(&settings))
			if ierr != nil {
				config.LogError(logg, "etims", "RunSweeps", "register pending items", settings.CompanyName, ierr)
				continue
			}
			result.Items += n
		}
	}

	encoded, _ := json.Marshal(result)
	logg.WithField("result", string(encoded)).Debug("sweep finished")
}

// StartSweeper runs RunSweeps on an interval until the context is done.
func StartSweeper(ctx context.Context, db *gorm.DB, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			RunSweeps(ctx, db)
		}
	}
}

package etims

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"bitbucket.org/mmdatafocus/etims_backend/config"
	"bitbucket.org/mmdatafocus/etims_backend/models"
	"bitbucket.org/mmdatafocus/etims_backend/utils"
)

func init() {
	RegisterStep(StepMasterDataPull, handleMasterDataPull)
	RegisterStep(StepItemRegister, handleItemRegister)
	RegisterStep(StepCustomerSearch, handleCustomerSearch)
}

// masterDataPulls maps each pull target to its search route and the upsert
// that lands the page into the local table.
var masterDataPulls = map[string]struct {
	routeKey string
	upsert   func(ctx context.Context, p *Pipeline, results []map[string]interface{}) error
}{
	"branches": {
		routeKey: "BhfSearchReq",
		upsert: func(ctx context.Context, p *Pipeline, results []map[string]interface{}) error {
			records := make([]models.Branch, 0, len(results))
			for _, r := range results {
				records = append(records, models.Branch{
					CompanyName: p.tenant.CompanyName,
					Name:        stringField(r, "name"),
					SladeId:     stringField(r, "id"),
					BranchCode:  stringField(r, "etims_branch_id"),
				})
			}
			return models.UpsertBySladeId(ctx, p.db, records)
		},
	},
	"departments": {
		routeKey: "DeptSearchReq",
		upsert: func(ctx context.Context, p *Pipeline, results []map[string]interface{}) error {
			records := make([]models.Department, 0, len(results))
			for _, r := range results {
				records = append(records, models.Department{
					Name:     stringField(r, "name"),
					SladeId:  stringField(r, "id"),
					BranchId: stringField(r, "parent"),
				})
			}
			return models.UpsertBySladeId(ctx, p.db, records)
		},
	},
	"warehouses": {
		routeKey: "WarehouseSearchReq",
		upsert: func(ctx context.Context, p *Pipeline, results []map[string]interface{}) error {
			records := make([]models.Warehouse, 0, len(results))
			for _, r := range results {
				active := stringField(r, "status") != "inactive"
				records = append(records, models.Warehouse{
					Name:     stringField(r, "name"),
					SladeId:  stringField(r, "id"),
					BranchId: stringField(r, "branch"),
					IsActive: &active,
				})
			}
			return models.UpsertBySladeId(ctx, p.db, records)
		},
	},
	"workstations": {
		routeKey: "WorkstationSearchReq",
		upsert: func(ctx context.Context, p *Pipeline, results []map[string]interface{}) error {
			records := make([]models.Workstation, 0, len(results))
			for _, r := range results {
				records = append(records, models.Workstation{
					Name:     stringField(r, "name"),
					SladeId:  stringField(r, "id"),
					BranchId: stringField(r, "branch"),
				})
			}
			return models.UpsertBySladeId(ctx, p.db, records)
		},
	},
	"currencies": {
		routeKey: "CurrencySearchReq",
		upsert: func(ctx context.Context, p *Pipeline, results []map[string]interface{}) error {
			records := make([]models.Currency, 0, len(results))
			for _, r := range results {
				records = append(records, models.Currency{
					Name:    stringField(r, "name"),
					IsoCode: stringField(r, "iso_code"),
					SladeId: stringField(r, "id"),
				})
			}
			return models.UpsertBySladeId(ctx, p.db, records)
		},
	},
	"payment_methods": {
		routeKey: "PmtMtdSearchReq",
		upsert: func(ctx context.Context, p *Pipeline, results []map[string]interface{}) error {
			records := make([]models.ModeOfPayment, 0, len(results))
			for _, r := range results {
				records = append(records, models.ModeOfPayment{
					Name:    stringField(r, "name"),
					SladeId: stringField(r, "id"),
				})
			}
			return models.UpsertBySladeId(ctx, p.db, records)
		},
	},
	"units_of_measure": {
		routeKey: "UOMSearchReq",
		upsert: func(ctx context.Context, p *Pipeline, results []map[string]interface{}) error {
			records := make([]models.UnitOfMeasure, 0, len(results))
			for _, r := range results {
				records = append(records, models.UnitOfMeasure{
					Name:    stringField(r, "name"),
					SladeId: stringField(r, "id"),
				})
			}
			return models.UpsertBySladeId(ctx, p.db, records)
		},
	},
	"taxes": {
		routeKey: "TaxSearchReq",
		upsert: func(ctx context.Context, p *Pipeline, results []map[string]interface{}) error {
			records := make([]models.TaxType, 0, len(results))
			for _, r := range results {
				percent, _ := r["percentage"].(float64)
				records = append(records, models.TaxType{
					Name:    stringField(r, "name"),
					Code:    stringField(r, "tax_code"),
					SladeId: stringField(r, "id"),
					Percent: percent,
				})
			}
			return models.UpsertBySladeId(ctx, p.db, records)
		},
	},
}

// handleMasterDataPull walks the paginated search for one target and
// upserts every page. The target travels in the job's document name.
func handleMasterDataPull(ctx context.Context, p *Pipeline, job config.EtimsJob) error {
	target := job.DocumentName
	pull, ok := masterDataPulls[target]
	if !ok {
		return &ConfigurationError{Detail: fmt.Sprintf("unknown master data target %q", target)}
	}

	paginator := &Paginator{
		Fetch: func(ctx context.Context, page int) (*Response, error) {
			return p.exec.Execute(ctx, RequestSpec{
				RouteKey: pull.routeKey,
				Method:   http.MethodGet,
				Payload: map[string]interface{}{
					"page": page,
				},
				Tenant:       p.tenant,
				DocumentType: "Master Data",
				DocumentName: target,
			})
		},
		Handle: func(ctx context.Context, results []map[string]interface{}) error {
			return pull.upsert(ctx, p, results)
		},
	}

	handled, err := paginator.Run(ctx)
	if err != nil {
		return err
	}

	logg := config.GetLogger()
	logg.WithField("target", target).WithField("records", handled).Debug("master data pull finished")
	return models.UpdateLastRequestDate(ctx, p.db, pull.routeKey, time.Now().UTC())
}

// handleItemRegister registers one local item with the gateway and stores
// the issued product id.
func handleItemRegister(ctx context.Context, p *Pipeline, job config.EtimsJob) error {
	item, err := models.GetItemByCode(ctx, p.db, job.DocumentName)
	if err != nil {
		return &DataValidationError{Detail: fmt.Sprintf("item %s not found", job.DocumentName), Err: err}
	}
	if item.SladeId != "" {
		return nil
	}

	payload := map[string]interface{}{
		"name":                    item.ItemName,
		"code":                    item.ItemCode,
		"description":             item.Description,
		"scu_item_classification": item.ItemClassification,
		"packaging_unit":          item.PackagingUnit,
		"quantity_unit":           item.UnitOfMeasure,
		"country_of_origin":       item.CountryOfOrigin,
		"product_type":            item.ProductType,
		"selling_price":           item.SellingPrice,
	}

	resp, err := p.exec.Execute(ctx, RequestSpec{
		RouteKey:     "ItemSaveReq",
		Method:       http.MethodPost,
		Payload:      payload,
		Tenant:       p.tenant,
		DocumentType: "Item",
		DocumentName: item.ItemCode,
	})
	if err != nil {
		return err
	}

	remoteId := resp.ID()
	if !ValidSladeID(remoteId) {
		return &DataValidationError{Detail: fmt.Sprintf("gateway returned unusable product id %q", remoteId)}
	}
	return item.MarkRegistered(ctx, p.db, remoteId)
}

// handleCustomerSearch looks a customer up on the gateway and stores the
// remote id plus normalized contact details.
func handleCustomerSearch(ctx context.Context, p *Pipeline, job config.EtimsJob) error {
	resp, err := p.exec.Execute(ctx, RequestSpec{
		RouteKey: "CustSearchReq",
		Method:   http.MethodGet,
		Payload: map[string]interface{}{
			"customer_name": job.DocumentName,
		},
		Tenant:       p.tenant,
		DocumentType: "Customer",
		DocumentName: job.DocumentName,
	})
	if err != nil {
		return err
	}

	results := resp.Results()
	if len(results) == 0 {
		return &DataValidationError{Detail: fmt.Sprintf("customer %q not found on gateway", job.DocumentName)}
	}

	first := results[0]
	customer := models.Customer{
		Name:        job.DocumentName,
		SladeId:     stringField(first, "id"),
		TaxPayerPIN: stringField(first, "customer_tax_pin"),
		Phone:       utils.NormalizePhone(stringField(first, "phone_number")),
		Email:       stringField(first, "email_address"),
		CurrencyId:  stringField(first, "currency"),
	}
	if !ValidSladeID(customer.SladeId) {
		return &DataValidationError{Detail: fmt.Sprintf("gateway returned unusable customer id %q", customer.SladeId)}
	}
	return models.UpsertBySladeId(ctx, p.db, []models.Customer{customer})
}

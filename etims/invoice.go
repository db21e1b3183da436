package etims

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"bitbucket.org/mmdatafocus/etims_backend/config"
	"bitbucket.org/mmdatafocus/etims_backend/models"
	"bitbucket.org/mmdatafocus/etims_backend/utils"
	"gorm.io/gorm"
)

func init() {
	RegisterStep(StepInvoiceSubmitHeader, handleInvoiceSubmitHeader)
	RegisterStep(StepInvoiceSubmitLines, handleInvoiceSubmitLines)
	RegisterStep(StepInvoiceTransition, handleInvoiceTransition)
	RegisterStep(StepInvoiceSign, handleInvoiceSign)
	RegisterStep(StepInvoiceFetchReceipt, handleInvoiceFetchReceipt)
}

// EnqueueSalesInvoice starts the signing chain for a posted invoice.
func EnqueueSalesInvoice(ctx context.Context, tenant TenantContext, invoiceName string) error {
	return EnqueueStep(ctx, StepInvoiceSubmitHeader, tenant, models.DocTypeSalesInvoice, invoiceName, nil)
}

// nextInvoiceStep re-derives the chain position from persisted fields.
func nextInvoiceStep(inv *models.SalesInvoice) string {
	if inv.IsSigned() {
		return ""
	}
	if inv.SladeId == "" {
		return StepInvoiceSubmitHeader
	}
	if inv.LinesSubmitted == nil || !*inv.LinesSubmitted {
		return StepInvoiceSubmitLines
	}
	if inv.SubmittedSuccessfully == nil || !*inv.SubmittedSuccessfully {
		return StepInvoiceTransition
	}
	return StepInvoiceSign
}

func loadInvoice(ctx context.Context, p *Pipeline, job config.EtimsJob) (*models.SalesInvoice, error) {
	invoice, err := models.GetSalesInvoice(ctx, p.db, job.DocumentName)
	if err != nil {
		return nil, &DataValidationError{
			Detail: fmt.Sprintf("sales invoice %s not found", job.DocumentName),
			Err:    err,
		}
	}
	return invoice, nil
}

func handleInvoiceSubmitHeader(ctx context.Context, p *Pipeline, job config.EtimsJob) error {
	invoice, err := loadInvoice(ctx, p, job)
	if err != nil {
		return err
	}

	switch nextInvoiceStep(invoice) {
	case "":
		return nil
	case StepInvoiceSubmitLines:
		return handleInvoiceSubmitLines(ctx, p, job)
	case StepInvoiceTransition:
		return handleInvoiceTransition(ctx, p, job)
	case StepInvoiceSign:
		return handleInvoiceSign(ctx, p, job)
	}

	customerId, err := models.ResolveLink(ctx, p.db, "Customer", invoice.Customer)
	if err != nil {
		return &DataValidationError{Detail: err.Error(), Err: err}
	}

	payload := map[string]interface{}{
		"reference_number":         invoice.Name,
		"customer":                 customerId,
		"branch":                   p.settings.BranchId,
		"source_organisation_unit": p.settings.DepartmentId,
		"invoice_date":             invoice.PostingDate.Format("2006-01-02"),
		"is_credit_note":           invoice.IsReturn != nil && *invoice.IsReturn,
	}
	if invoice.Currency != "" {
		currencyId, cerr := models.ResolveLink(ctx, p.db, "Currency", invoice.Currency)
		if cerr == nil {
			payload["currency"] = currencyId
		}
	}
	if invoice.ReturnAgainst != "" {
		originalId, oerr := models.ResolveLink(ctx, p.db, models.DocTypeSalesInvoice, invoice.ReturnAgainst)
		if oerr != nil {
			return &DataValidationError{Detail: oerr.Error(), Err: oerr}
		}
		payload["original_invoice"] = originalId
	}

	resp, err := p.exec.Execute(ctx, RequestSpec{
		RouteKey:     "TrnsSalesSaveWrReq",
		Method:       http.MethodPost,
		Payload:      payload,
		Tenant:       p.tenant,
		DocumentType: models.DocTypeSalesInvoice,
		DocumentName: invoice.Name,
	})
	if err != nil {
		return err
	}

	remoteId := resp.ID()
	if !ValidSladeID(remoteId) {
		return &DataValidationError{Detail: fmt.Sprintf("gateway returned unusable invoice id %q", remoteId)}
	}

	if err := invoice.MarkHeaderSubmitted(ctx, p.db, remoteId); err != nil {
		return err
	}
	return EnqueueStep(ctx, StepInvoiceSubmitLines, p.tenant, models.DocTypeSalesInvoice, invoice.Name, nil)
}

func handleInvoiceSubmitLines(ctx context.Context, p *Pipeline, job config.EtimsJob) error {
	invoice, err := loadInvoice(ctx, p, job)
	if err != nil {
		return err
	}
	if invoice.IsSigned() {
		return nil
	}
	if invoice.SladeId == "" {
		return &DataValidationError{Detail: "invoice lines submitted before header"}
	}

	for _, line := range invoice.Items {
		item, err := models.GetItemByCode(ctx, p.db, line.ItemCode)
		if err != nil {
			return &DataValidationError{Detail: fmt.Sprintf("item %s not found", line.ItemCode), Err: err}
		}
		productId, err := item.RequireSladeId()
		if err != nil {
			return &DataValidationError{Detail: fmt.Sprintf("item %s not registered", line.ItemCode), Err: err}
		}

		taxAmount := line.TaxAmount
		if taxAmount.IsZero() {
			taxAmount = utils.CalculateLineTax(line.Amount, line.TaxCode, true)
		}

		payload := map[string]interface{}{
			"sales_invoice": invoice.SladeId,
			"product":       productId,
			"quantity":      line.Qty.Abs(),
			"unit_price":    line.Rate,
			"amount":        line.Amount,
			"tax_amount":    taxAmount,
		}

		_, err = p.exec.Execute(ctx, RequestSpec{
			RouteKey:     "SalesLineSaveReq",
			Method:       http.MethodPost,
			Payload:      payload,
			Tenant:       p.tenant,
			DocumentType: models.DocTypeSalesInvoice,
			DocumentName: invoice.Name,
		})
		if err != nil {
			return err
		}
	}

	if err := invoice.MarkLinesSubmitted(ctx, p.db); err != nil {
		return err
	}
	return EnqueueStep(ctx, StepInvoiceTransition, p.tenant, models.DocTypeSalesInvoice, invoice.Name, nil)
}

func handleInvoiceTransition(ctx context.Context, p *Pipeline, job config.EtimsJob) error {
	invoice, err := loadInvoice(ctx, p, job)
	if err != nil {
		return err
	}
	if invoice.IsSigned() {
		return nil
	}
	if invoice.SladeId == "" || invoice.LinesSubmitted == nil || !*invoice.LinesSubmitted {
		return &DataValidationError{Detail: "transition requested before lines were submitted"}
	}

	_, err = p.exec.Execute(ctx, RequestSpec{
		RouteKey: "SalesTransitionReq",
		Method:   http.MethodPatch,
		Payload: map[string]interface{}{
			"id":             invoice.SladeId,
			"workflow_state": "processed",
		},
		Tenant:       p.tenant,
		DocumentType: models.DocTypeSalesInvoice,
		DocumentName: invoice.Name,
	})
	if err != nil {
		return err
	}

	if err := invoice.MarkSubmitted(ctx, p.db); err != nil {
		return err
	}
	return EnqueueStep(ctx, StepInvoiceSign, p.tenant, models.DocTypeSalesInvoice, invoice.Name, nil)
}

func handleInvoiceSign(ctx context.Context, p *Pipeline, job config.EtimsJob) error {
	invoice, err := loadInvoice(ctx, p, job)
	if err != nil {
		return err
	}
	if invoice.IsSigned() {
		return nil
	}

	_, err = p.exec.Execute(ctx, RequestSpec{
		RouteKey: "SalesSignInvReq",
		Method:   http.MethodPatch,
		Payload: map[string]interface{}{
			"id": invoice.SladeId,
		},
		Tenant:       p.tenant,
		DocumentType: models.DocTypeSalesInvoice,
		DocumentName: invoice.Name,
	})
	if err != nil {
		return err
	}

	return EnqueueStep(ctx, StepInvoiceFetchReceipt, p.tenant, models.DocTypeSalesInvoice, invoice.Name, nil)
}

// handleInvoiceFetchReceipt pulls the fiscal receipt for a signed invoice,
// stores the control unit fields, renders the verification QR code, and
// uploads it to cloud storage.
func handleInvoiceFetchReceipt(ctx context.Context, p *Pipeline, job config.EtimsJob) error {
	invoice, err := loadInvoice(ctx, p, job)
	if err != nil {
		return err
	}
	if invoice.IsSigned() && invoice.QRCodeURL != "" {
		return nil
	}

	resp, err := p.exec.Execute(ctx, RequestSpec{
		RouteKey: "SalesReceiptReq",
		Method:   http.MethodGet,
		Payload: map[string]interface{}{
			"sales_invoice": invoice.SladeId,
		},
		Tenant:       p.tenant,
		DocumentType: models.DocTypeSalesInvoice,
		DocumentName: invoice.Name,
	})
	if err != nil {
		return err
	}

	results := resp.Results()
	if len(results) == 0 {
		return &RemoteRejection{
			StatusCode: resp.StatusCode,
			Detail:     "receipt not available yet",
		}
	}
	receipt := results[0]

	serial := stringField(receipt, "scu_id")
	cuInvoice := stringField(receipt, "scu_invoice_number")
	signature := stringField(receipt, "scu_receipt_signature")
	internalData := stringField(receipt, "scu_internal_data")
	if cuInvoice == "" {
		return &RemoteRejection{
			StatusCode: resp.StatusCode,
			Detail:     "receipt missing control unit invoice number",
		}
	}

	if err := invoice.SaveReceipt(ctx, p.db, serial, cuInvoice, signature, internalData, time.Now().UTC()); err != nil {
		return err
	}

	return attachReceiptQRCode(ctx, p.db, p.settings, invoice, cuInvoice)
}

// attachReceiptQRCode renders and uploads the KRA verification QR code.
// Upload failure does not fail the step; the receipt fields are already
// stored and the sweep retries the upload.
func attachReceiptQRCode(ctx context.Context, db *gorm.DB, settings *models.EtimsSettings, invoice *models.SalesInvoice, cuInvoice string) error {
	var company models.Company
	pin := ""
	branchCode := "00"
	if err := db.WithContext(ctx).Where("name = ?", invoice.CompanyName).First(&company).Error; err == nil {
		pin = company.TaxPayerPIN
	}
	var branch models.Branch
	if err := db.WithContext(ctx).Where("slade_id = ?", settings.BranchId).First(&branch).Error; err == nil && branch.BranchCode != "" {
		branchCode = branch.BranchCode
	}

	verifyURL := utils.KRAVerificationURL(pin, branchCode, cuInvoice)
	png, err := utils.GenerateQRCodePNG(verifyURL)
	if err != nil {
		return err
	}

	objectName := fmt.Sprintf("receipts/%s/%s.png", invoice.CompanyName, invoice.Name)
	url, err := utils.UploadBytesToGCS(ctx, objectName, png, "image/png")
	if err != nil {
		logg := config.GetLogger()
		config.LogError(logg, "etims", "attachReceiptQRCode", "upload qr code", invoice.Name, err)
		return nil
	}
	return invoice.SaveQRCodeURL(ctx, db, url)
}

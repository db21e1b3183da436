package etims

import (
	"strconv"

	"bitbucket.org/mmdatafocus/etims_backend/models"
)

// TenantContext carries the tenant identity through every pipeline step.
// It is always passed explicitly; nothing reads tenant state from globals.
type TenantContext struct {
	CompanyName string `json:"company_name"`
	BranchId    string `json:"branch_id"`
}

func (t TenantContext) Valid() bool {
	return t.CompanyName != ""
}

// Pipeline step tags. Jobs carry a tag and workers dispatch through the
// step registry; no behavior travels inside the queue message.
const (
	StepStockSubmitHeader = "stock.submit_header"
	StepStockSubmitLines  = "stock.submit_lines"
	StepStockTransition   = "stock.transition"

	StepInvoiceSubmitHeader = "invoice.submit_header"
	StepInvoiceSubmitLines  = "invoice.submit_lines"
	StepInvoiceTransition   = "invoice.transition"
	StepInvoiceSign         = "invoice.sign"
	StepInvoiceFetchReceipt = "invoice.fetch_receipt"

	StepItemRegister   = "item.register"
	StepCustomerSearch = "customer.search"
	StepMasterDataPull = "masterdata.pull"
	StepStockBalance   = "stock.balance_check"
)

// RequestSpec is everything the executor needs for one gateway call.
type RequestSpec struct {
	RouteKey string
	Method   string
	Payload  map[string]interface{}
	Tenant   TenantContext

	// Audit fields recorded on the integration request log.
	DocumentType string
	DocumentName string
}

// Response is the parsed gateway reply.
type Response struct {
	StatusCode int
	// Data holds the structured body for JSON responses, nil otherwise.
	Data map[string]interface{}
	// Text holds trimmed text for html/xml responses.
	Text string
	// Raw holds bytes for binary responses (pdf, zip, octet-stream).
	Raw []byte
}

// ID returns the remote document id from a structured response.
func (r *Response) ID() string {
	if r.Data == nil {
		return ""
	}
	switch v := r.Data["id"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	}
	return ""
}

// Results returns the result list of a paginated structured response.
func (r *Response) Results() []map[string]interface{} {
	if r.Data == nil {
		return nil
	}
	raw, ok := r.Data["results"].([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

// Count returns the total record count of a paginated response.
func (r *Response) Count() int {
	if r.Data == nil {
		return 0
	}
	if n, ok := r.Data["count"].(float64); ok {
		return int(n)
	}
	return 0
}

// PubSubPushEnvelope is the wrapper Google Pub/Sub wraps push deliveries in.
type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// stringField pulls a string out of a generic payload map.
func stringField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func tenantFromSettings(settings *models.EtimsSettings) TenantContext {
	return TenantContext{
		CompanyName: settings.CompanyName,
		BranchId:    settings.BranchId,
	}
}

package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// IntegrationRequest is the append-only audit log for every outbound call
// to the gateway. A record starts as Queued and is finalized exactly once;
// retries create new records.
type IntegrationRequest struct {
	ID          int    `gorm:"primary_key" json:"id"`
	CompanyName string `gorm:"size:140;index" json:"company_name"`
	BranchId    string `gorm:"size:140" json:"branch_id"`

	RouteKey      string `gorm:"size:140;index" json:"route_key"`
	URL           string `gorm:"size:512" json:"url"`
	Method        string `gorm:"size:10" json:"method"`
	RequestBody   []byte `gorm:"type:json" json:"request_body"`
	ResponseBody  []byte `gorm:"type:mediumtext" json:"response_body"`
	StatusCode    int    `json:"status_code"`
	Status        string `gorm:"size:20;index;not null" json:"status"`
	Error         string `gorm:"type:text" json:"error"`
	DocumentType  string `gorm:"size:140;index" json:"document_type"`
	DocumentName  string `gorm:"size:140;index" json:"document_name"`
	CorrelationId string `gorm:"size:64;index" json:"correlation_id"`

	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// Enqueue writes the Queued record before the HTTP call leaves the process.
func (r *IntegrationRequest) Enqueue(ctx context.Context, db *gorm.DB) error {
	r.Status = RequestStatusQueued
	return db.WithContext(ctx).Create(r).Error
}

// Finalize moves a Queued record to its terminal status. The WHERE guard on
// status makes finalization idempotent under concurrent workers.
func (r *IntegrationRequest) Finalize(ctx context.Context, db *gorm.DB, status string, statusCode int, responseBody []byte, errMsg string) error {
	now := time.Now().UTC()
	return db.WithContext(ctx).Model(&IntegrationRequest{}).
		Where("id = ? AND status = ?", r.ID, RequestStatusQueued).
		Updates(map[string]interface{}{
			"status":        status,
			"status_code":   statusCode,
			"response_body": responseBody,
			"error":         errMsg,
			"completed_at":  now,
		}).Error
}

// FailedRequestsSince lists Failed records newer than the cutoff, used by
// the resubmission sweep.
func FailedRequestsSince(ctx context.Context, db *gorm.DB, since time.Time, limit int) ([]IntegrationRequest, error) {
	var requests []IntegrationRequest
	err := db.WithContext(ctx).
		Where("status = ? AND created_at >= ?", RequestStatusFailed, since).
		Order("id asc").
		Limit(limit).
		Find(&requests).Error
	return requests, err
}

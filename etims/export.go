package etims

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/etims_backend/models"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const exportSheet = "Sheet1"

// ExportRequestLog renders the integration request log for one tenant and
// window as a spreadsheet, for compliance audits.
func ExportRequestLog(ctx context.Context, db *gorm.DB, companyName string, from, to time.Time) (*excelize.File, error) {
	var requests []models.IntegrationRequest
	query := db.WithContext(ctx).
		Where("created_at BETWEEN ? AND ?", from, to).
		Order("id asc")
	if companyName != "" {
		query = query.Where("company_name = ?", companyName)
	}
	if err := query.Find(&requests).Error; err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	if _, err := f.NewSheet(exportSheet); err != nil {
		return nil, err
	}

	headers := []string{"ID", "Company", "Route", "Method", "URL", "Status", "StatusCode", "DocumentType", "DocumentName", "Error", "CreatedAt", "CompletedAt"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(exportSheet, cell, header)
	}

	for i, request := range requests {
		row := i + 2
		completed := ""
		if request.CompletedAt != nil {
			completed = request.CompletedAt.Format(time.RFC3339)
		}
		values := []interface{}{
			request.ID,
			request.CompanyName,
			request.RouteKey,
			request.Method,
			request.URL,
			request.Status,
			request.StatusCode,
			request.DocumentType,
			request.DocumentName,
			request.Error,
			request.CreatedAt.Format(time.RFC3339),
			completed,
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			f.SetCellValue(exportSheet, cell, value)
		}
	}

	return f, nil
}

// ExportFileName builds the attachment name for a request log export.
func ExportFileName(companyName string, from, to time.Time) string {
	if companyName == "" {
		companyName = "all"
	}
	return fmt.Sprintf("etims-requests-%s-%s-%s.xlsx", companyName, from.Format("20060102"), to.Format("20060102"))
}

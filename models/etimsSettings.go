package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/etims_backend/config"
	"gorm.io/gorm"
)

// EtimsSettings holds per company+branch credentials and endpoints for
// the Slade360 eTims gateway, along with the cached access token.
type EtimsSettings struct {
	ID            int    `gorm:"primary_key" json:"id"`
	CompanyName   string `gorm:"size:140;index:idx_settings_tenant,priority:1;not null" json:"company_name" binding:"required"`
	BranchId      string `gorm:"size:140;index:idx_settings_tenant,priority:2" json:"branch_id"`
	DepartmentId  string `gorm:"size:140" json:"department_id"`
	WorkstationId string `gorm:"size:140" json:"workstation_id"`

	ServerURL     string `gorm:"size:255;not null" json:"server_url" binding:"required"`
	AuthServerURL string `gorm:"size:255;not null" json:"auth_server_url" binding:"required"`
	ClientId      string `gorm:"size:255;not null" json:"client_id" binding:"required"`
	ClientSecret  string `gorm:"size:255;not null" json:"client_secret" binding:"required"`
	Username      string `gorm:"size:140;not null" json:"username" binding:"required"`
	Password      string `gorm:"size:255;not null" json:"password" binding:"required"`

	AccessToken string     `gorm:"type:text" json:"-"`
	TokenExpiry *time.Time `json:"token_expiry"`

	IsActive  *bool     `gorm:"not null;default:1" json:"is_active"`
	SandBox   *bool     `gorm:"not null;default:0" json:"sandbox"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

var ErrNoActiveSettings = errors.New("no active etims settings for tenant")

// TokenValid reports whether the cached token exists and has not expired.
// A small safety margin avoids using a token that dies mid-request.
func (s *EtimsSettings) TokenValid(now time.Time) bool {
	if s.AccessToken == "" || s.TokenExpiry == nil {
		return false
	}
	return now.Add(30 * time.Second).Before(*s.TokenExpiry)
}

func (s *EtimsSettings) CacheKey() string {
	return fmt.Sprintf("EtimsSettings:%s:%s", s.CompanyName, s.BranchId)
}

/*
caches:
	EtimsSettings:$companyName:$branchId
*/

func (s EtimsSettings) RemoveInstanceRedis() error {
	return config.RemoveRedisKey(s.CacheKey())
}

// GetActiveSettings resolves settings for a company+branch. When no record
// matches the branch exactly it falls back to the company's single active
// record, matching how documents without a branch are handled.
func GetActiveSettings(ctx context.Context, db *gorm.DB, companyName, branchId string) (*EtimsSettings, error) {
	var settings EtimsSettings

	cacheKey := fmt.Sprintf("EtimsSettings:%s:%s", companyName, branchId)
	if found, err := config.GetRedisObject(cacheKey, &settings); err == nil && found {
		return &settings, nil
	}

	err := db.WithContext(ctx).
		Where("company_name = ? AND branch_id = ? AND is_active = ?", companyName, branchId, true).
		First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = db.WithContext(ctx).
			Where("company_name = ? AND is_active = ?", companyName, true).
			First(&settings).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoActiveSettings
	}
	if err != nil {
		return nil, err
	}

	_ = config.SetRedisObject(cacheKey, settings, 5*time.Minute)
	return &settings, nil
}

// SaveGatewayIds backfills department and workstation ids learned from the
// gateway account profile. Empty values leave the stored ids untouched.
func (s *EtimsSettings) SaveGatewayIds(ctx context.Context, db *gorm.DB, departmentId, workstationId string) error {
	updates := map[string]interface{}{}
	if departmentId != "" {
		s.DepartmentId = departmentId
		updates["department_id"] = departmentId
	}
	if workstationId != "" {
		s.WorkstationId = workstationId
		updates["workstation_id"] = workstationId
	}
	if len(updates) == 0 {
		return nil
	}
	err := db.WithContext(ctx).Model(&EtimsSettings{}).
		Where("id = ?", s.ID).
		Updates(updates).Error
	if err != nil {
		return err
	}
	return config.SetRedisObject(s.CacheKey(), s, 5*time.Minute)
}

// SaveToken persists a freshly issued token and refreshes the cache.
func (s *EtimsSettings) SaveToken(ctx context.Context, db *gorm.DB, token string, expiry time.Time) error {
	s.AccessToken = token
	s.TokenExpiry = &expiry
	err := db.WithContext(ctx).Model(&EtimsSettings{}).
		Where("id = ?", s.ID).
		Updates(map[string]interface{}{
			"access_token": token,
			"token_expiry": expiry,
		}).Error
	if err != nil {
		return err
	}
	return config.SetRedisObject(s.CacheKey(), s, 5*time.Minute)
}

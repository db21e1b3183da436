// seed-admin creates or updates the admin console user.
//
// Usage:
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-admin
//
// Override the defaults with ADMIN_USERNAME / ADMIN_PASSWORD env vars.
package main

import (
	"context"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/etims_backend/config"
	"bitbucket.org/mmdatafocus/etims_backend/models"
	"bitbucket.org/mmdatafocus/etims_backend/utils"
	"gorm.io/gorm"
)

const (
	defaultAdminUsername = "etimsAdmin"
	defaultAdminName     = "eTims Admin"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	username := os.Getenv("ADMIN_USERNAME")
	if username == "" {
		username = defaultAdminUsername
	}
	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		fmt.Fprintln(os.Stderr, "ADMIN_PASSWORD is required")
		os.Exit(1)
	}

	hashed, err := utils.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}
	hashedStr := string(hashed)
	active := true
	admin := true

	var existing models.User
	err = db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).First(&existing).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
			os.Exit(1)
		}
		u := models.User{
			Username: username,
			Name:     defaultAdminName,
			Password: hashedStr,
			IsActive: &active,
			IsAdmin:  &admin,
		}
		if err := db.WithContext(ctx).Create(&u).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("created admin user %q (id=%d)\n", username, u.ID)
		return
	}

	if err := db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{
			"password":  hashedStr,
			"is_active": true,
			"is_admin":  true,
		}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update admin user: %v\n", err)
		os.Exit(1)
	}
	_ = existing.RemoveInstanceRedis()
	fmt.Printf("updated admin user %q (id=%d)\n", username, existing.ID)
}

package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/etims_backend/config"
	"bitbucket.org/mmdatafocus/etims_backend/utils"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// User is an operator of the admin surface (settings, routes, request log).
type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Username  string    `gorm:"size:100;not null;unique" json:"username" binding:"required"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Email     *string   `gorm:"size:100;unique" json:"email"`
	Password  string    `gorm:"size:255;not null" json:"-"`
	IsActive  *bool     `gorm:"not null" json:"is_active"`
	IsAdmin   *bool     `gorm:"not null;default:0" json:"is_admin"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Username string `json:"username" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email"`
	Password string `json:"password" binding:"required"`
	IsAdmin  *bool  `json:"is_admin"`
}

type LoginInput struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginInfo struct {
	Token   string `json:"token"`
	Name    string `json:"name"`
	IsAdmin bool   `json:"is_admin"`
}

/*
caches:
	User:$username
*/

func (user User) RemoveInstanceRedis() error {
	return config.RemoveRedisKey("User:" + user.Username)
}

var ErrInvalidCredentials = errors.New("invalid username or password")

func GetUserByUsername(ctx context.Context, db *gorm.DB, username string) (*User, error) {
	var user User

	if found, err := config.GetRedisObject("User:"+username, &user); err == nil && found {
		return &user, nil
	}

	err := db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err != nil {
		return nil, err
	}

	_ = config.SetRedisObject("User:"+username, user, 10*time.Minute)
	return &user, nil
}

// Login verifies credentials and issues a JWT.
func Login(ctx context.Context, db *gorm.DB, input LoginInput) (*LoginInfo, error) {
	user, err := GetUserByUsername(ctx, db, input.Username)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if user.IsActive == nil || !*user.IsActive {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(input.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	isAdmin := user.IsAdmin != nil && *user.IsAdmin
	token, err := utils.GenerateToken(user.ID, user.Username, isAdmin)
	if err != nil {
		return nil, err
	}

	return &LoginInfo{
		Token:   token,
		Name:    user.Name,
		IsAdmin: isAdmin,
	}, nil
}

// CreateUser hashes the password and inserts the record.
func CreateUser(ctx context.Context, db *gorm.DB, input NewUser) (*User, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	active := true
	user := User{
		Username: input.Username,
		Name:     input.Name,
		Password: string(hashed),
		IsActive: &active,
		IsAdmin:  input.IsAdmin,
	}
	if input.Email != "" {
		user.Email = &input.Email
	}

	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Package handler implements account registration and login. Individual
// accounts have no enterprise and use the personal storage service;
// enterprise registration creates the tenant and its first user together.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"veritrace-system/internal/apperr"
	"veritrace-system/internal/database/models"
	"veritrace-system/internal/gateway/middleware"
	"veritrace-system/internal/services/audit"
	"veritrace-system/internal/utils"
)

type UserHandler struct {
	db        *gorm.DB
	audit     *audit.Service
	log       *zap.Logger
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewUserHandler(db *gorm.DB, auditSvc *audit.Service, log *zap.Logger, jwtSecret []byte, tokenTTL time.Duration) *UserHandler {
	return &UserHandler{db: db, audit: auditSvc, log: log, jwtSecret: jwtSecret, tokenTTL: tokenTTL}
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

type RegisterEnterpriseRequest struct {
	EnterpriseName string  `json:"enterprise_name" binding:"required"`
	Email          string  `json:"email" binding:"required,email"`
	Industry       *string `json:"industry"`
	Address        *string `json:"address"`
	AdminUsername  string  `json:"admin_username" binding:"required"`
	AdminEmail     string  `json:"admin_email" binding:"required,email"`
	AdminPassword  string  `json:"admin_password" binding:"required,min=8"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type AuthResult struct {
	Token        string    `json:"token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	EnterpriseID string    `json:"enterprise_id,omitempty"`
}

// Register creates an individual account with no enterprise affiliation.
func (s *UserHandler) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("username = ? OR email = ?", req.Username, req.Email).
		Count(&count).Error; err != nil {
		return nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
	}
	if count > 0 {
		return nil, apperr.E(apperr.ErrValidation, "Username or email already registered")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperr.E(apperr.ErrStoreUnavailable, "failed to hash password")
	}

	user := models.User{
		ID:       utils.NewID("user"),
		Username: req.Username,
		Email:    req.Email,
		Password: string(hashed),
		IsActive: true,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, apperr.E(apperr.ErrStoreUnavailable, "Failed to create user")
	}
	return &user, nil
}

// RegisterEnterprise creates the tenant and its admin user in one
// transaction.
func (s *UserHandler) RegisterEnterprise(ctx context.Context, req RegisterEnterpriseRequest) (*models.Enterprise, *models.User, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Enterprise{}).
		Where("enterprise_name = ? OR email = ?", req.EnterpriseName, req.Email).
		Count(&count).Error; err != nil {
		return nil, nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
	}
	if count > 0 {
		return nil, nil, apperr.E(apperr.ErrValidation, "Enterprise name or email already registered")
	}

	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("username = ? OR email = ?", req.AdminUsername, req.AdminEmail).
		Count(&count).Error; err != nil {
		return nil, nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
	}
	if count > 0 {
		return nil, nil, apperr.E(apperr.ErrValidation, "Username or email already registered")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, apperr.E(apperr.ErrStoreUnavailable, "failed to hash password")
	}

	enterprise := models.Enterprise{
		ID:             utils.NewID("ent"),
		EnterpriseName: req.EnterpriseName,
		Email:          req.Email,
		Industry:       req.Industry,
		Address:        req.Address,
	}
	user := models.User{
		ID:           utils.NewID("user"),
		Username:     req.AdminUsername,
		Email:        req.AdminEmail,
		Password:     string(hashed),
		EnterpriseID: &enterprise.ID,
		IsActive:     true,
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(&enterprise).Error; err != nil {
		tx.Rollback()
		return nil, nil, apperr.E(apperr.ErrStoreUnavailable, "Failed to create enterprise")
	}
	if err := tx.Create(&user).Error; err != nil {
		tx.Rollback()
		return nil, nil, apperr.E(apperr.ErrStoreUnavailable, "Failed to create user")
	}
	if err := tx.Commit().Error; err != nil {
		return nil, nil, apperr.E(apperr.ErrStoreUnavailable, "Failed to commit registration")
	}

	return &enterprise, &user, nil
}

// Login verifies credentials and issues a token carrying the user's
// enterprise claim (empty for individual accounts).
func (s *UserHandler) LoginUser(ctx context.Context, req LoginRequest) (*AuthResult, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("username = ?", req.Username).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.E(apperr.ErrValidation, "Invalid username or password")
		}
		return nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
	}
	if !user.IsActive {
		return nil, apperr.E(apperr.ErrValidation, "Account is deactivated")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		return nil, apperr.E(apperr.ErrValidation, "Invalid username or password")
	}

	enterpriseID := ""
	if user.EnterpriseID != nil {
		enterpriseID = *user.EnterpriseID
	}

	token, expiresAt, err := utils.GenerateToken(s.jwtSecret, user.ID, user.Username, enterpriseID, s.tokenTTL)
	if err != nil {
		return nil, apperr.E(apperr.ErrStoreUnavailable, "failed to issue token")
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("last_login", now).Error; err != nil {
		s.log.Warn("failed to record last login", zap.String("user_id", user.ID), zap.Error(err))
	}

	return &AuthResult{
		Token:        token,
		ExpiresAt:    expiresAt,
		UserID:       user.ID,
		Username:     user.Username,
		EnterpriseID: enterpriseID,
	}, nil
}

// Me resolves the token's user, with the enterprise attached for members.
func (s *UserHandler) Me(ctx context.Context, userID string) (*models.User, *models.Enterprise, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apperr.E(apperr.ErrNotFound, "User not found")
		}
		return nil, nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
	}

	if user.EnterpriseID == nil {
		return &user, nil, nil
	}

	var enterprise models.Enterprise
	err = s.db.WithContext(ctx).Where("id = ?", *user.EnterpriseID).First(&enterprise).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &user, nil, nil
		}
		return nil, nil, apperr.E(apperr.ErrStoreUnavailable, "database error")
	}
	return &user, &enterprise, nil
}

// --- HTTP endpoints ---

func (s *UserHandler) success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

func (s *UserHandler) error(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"success": false,
		"error":   message,
	})
}

// POST /auth/register
func (s *UserHandler) PostRegister(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.error(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	user, err := s.Register(c.Request.Context(), req)
	if err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}
	s.success(c, user)
}

// POST /auth/register/enterprise
func (s *UserHandler) PostRegisterEnterprise(c *gin.Context) {
	var req RegisterEnterpriseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.error(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	enterprise, user, err := s.RegisterEnterprise(c.Request.Context(), req)
	if err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}
	s.success(c, gin.H{"enterprise": enterprise, "admin": user})
}

// GET /auth/me
func (s *UserHandler) GetMe(c *gin.Context) {
	user, enterprise, err := s.Me(c.Request.Context(), c.GetString(middleware.CtxUserID))
	if err != nil {
		s.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}

	payload := gin.H{"user": user}
	if enterprise != nil {
		payload["enterprise"] = enterprise
	}
	s.success(c, payload)
}

// POST /auth/login
func (s *UserHandler) PostLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.error(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	result, err := s.LoginUser(c.Request.Context(), req)
	if err != nil {
		// Credential failures come back 401 regardless of classification.
		status := apperr.HTTPStatus(err)
		if status == http.StatusBadRequest {
			status = http.StatusUnauthorized
		}
		s.error(c, status, err.Error())
		return
	}
	s.success(c, result)
}

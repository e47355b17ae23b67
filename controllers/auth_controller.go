package controllers

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"policy_kline_backend/middleware"
	"policy_kline_backend/models"
	"policy_kline_backend/services"
)

// loginRequest is the admin login payload.
type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login authenticates an admin and issues an API token.
func Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "username and password are required",
		})
		return
	}

	ip := c.ClientIP()
	db := services.GlobalEventService.DB()

	var user models.AdminUser
	err := db.Where("username = ? AND is_active = ?", req.Username, true).First(&user).Error
	if err != nil || !user.CheckPassword(req.Password) {
		middleware.RecordLoginAttempt(ip, false)
		if err != nil && err != gorm.ErrRecordNotFound {
			log.Printf("Login lookup failed: %v", err)
		}
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "invalid username or password",
		})
		return
	}

	middleware.RecordLoginAttempt(ip, true)

	token, err := middleware.GenerateToken(user.Username, user.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to issue token",
		})
		return
	}

	now := time.Now()
	if err := db.Model(&user).Update("last_login_at", &now).Error; err != nil {
		log.Printf("Failed to record login time for %s: %v", user.Username, err)
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user": gin.H{
			"username": user.Username,
			"role":     user.Role,
		},
	})
}

// Me returns the authenticated admin's identity.
func Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"username": c.GetString("username"),
		"role":     c.GetString("user_role"),
	})
}

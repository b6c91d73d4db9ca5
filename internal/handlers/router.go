package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/learnsphere/test-engine/internal/models"
	"github.com/learnsphere/test-engine/internal/repositories"
	"github.com/learnsphere/test-engine/internal/repositories/casdoor"
	"github.com/learnsphere/test-engine/internal/services"
	"github.com/learnsphere/test-engine/internal/utils"
	"github.com/learnsphere/test-engine/internal/validator"
)

type HandlerManager struct {
	attemptHandler *AttemptHandler
	testHandler    *TestHandler
	authMiddleware *CasdoorAuthMiddleware
	serviceManager services.ServiceManager
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	validator *validator.Validator,
	logger utils.Logger,
	casdoorConfig casdoor.CasdoorConfig,
	userRepo repositories.UserRepository,
) *HandlerManager {
	return &HandlerManager{
		attemptHandler: NewAttemptHandler(serviceManager.Attempt(), validator, logger),
		testHandler:    NewTestHandler(serviceManager.Stats(), serviceManager.Report(), logger),
		authMiddleware: NewCasdoorAuthMiddleware(casdoorConfig, userRepo),
		serviceManager: serviceManager,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware())
	{
		tests := v1.Group("/tests")
		{
			// Taking tests - all authenticated users
			tests.POST("/:id/attempts", hm.attemptHandler.StartAttempt)
			tests.GET("/:id/attempts/history", hm.attemptHandler.GetHistory)

			// Aggregates and exports - course staff only
			tests.GET("/:id/stats", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.testHandler.GetStats)
			tests.GET("/:id/report", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.testHandler.ExportReport)
		}

		attempts := v1.Group("/attempts")
		{
			attempts.GET("/:id", hm.attemptHandler.GetAttempt)
			attempts.POST("/:id/submit", hm.attemptHandler.SubmitAttempt)
			attempts.GET("/:id/time-remaining", hm.attemptHandler.GetTimeRemaining)

			// Expiry is idempotent, so staff tooling may trigger it
			attempts.POST("/:id/timeout", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.attemptHandler.HandleTimeout)
		}
	}

	router.GET("/health", func(c *gin.Context) {
		if err := hm.serviceManager.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": "test-engine",
				"error":   err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "test-engine",
		})
	})
}

package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailflow-go/internal/repository"
	"mailflow-go/internal/service"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	db           *gorm.DB
	queue        service.Enqueuer
	workspaces   *repository.WorkspaceRepository
	importJobs   *repository.ImportJobRepository
	rules        *repository.SenderRuleRepository
	faqs         *repository.FAQRepository
	deadLetters  *repository.DeadLetterRepository
	webhook      *service.WebhookService
	consolidator *service.Consolidator
	drafter      *service.Drafter
}

// NewHandlers creates new HTTP handlers
func NewHandlers(
	db *gorm.DB,
	queue service.Enqueuer,
	workspaces *repository.WorkspaceRepository,
	importJobs *repository.ImportJobRepository,
	rules *repository.SenderRuleRepository,
	faqs *repository.FAQRepository,
	deadLetters *repository.DeadLetterRepository,
	webhook *service.WebhookService,
	consolidator *service.Consolidator,
	drafter *service.Drafter,
) *Handlers {
	return &Handlers{
		db:           db,
		queue:        queue,
		workspaces:   workspaces,
		importJobs:   importJobs,
		rules:        rules,
		faqs:         faqs,
		deadLetters:  deadLetters,
		webhook:      webhook,
		consolidator: consolidator,
		drafter:      drafter,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/webhooks/mailbox", h.WebhookValidation)
	router.POST("/webhooks/mailbox", h.WebhookReceive)

	api := router.Group("/api/v1")
	{
		api.POST("/workspaces/:id/import", h.StartImport)
		api.GET("/workspaces/:id/import", h.GetImportStatus)
		api.DELETE("/workspaces/:id/import", h.CancelImport)

		api.POST("/workspaces/:id/consolidation", h.StartConsolidation)
		api.GET("/consolidation/:jobId", h.GetConsolidationStatus)

		api.GET("/workspaces/:id/rules", h.GetRules)
		api.POST("/workspaces/:id/rules", h.CreateRule)
		api.PUT("/rules/:id", h.UpdateRule)
		api.DELETE("/rules/:id", h.DeleteRule)

		api.POST("/drafts/:id/send", h.SendDraft)
		api.GET("/dead-letters", h.GetDeadLetters)
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Metrics:   make(map[string]string),
	}

	if err := h.db.WithContext(c.Request.Context()).Raw("SELECT 1").Row().Err(); err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, response)
}

// GetDeadLetters returns the newest dead-lettered queue messages
func (h *Handlers) GetDeadLetters(c *gin.Context) {
	rows, err := h.deadLetters.ListRecent(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch dead letters",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, rows)
}

// SendDraft delivers an approved draft
func (h *Handlers) SendDraft(c *gin.Context) {
	if err := h.drafter.SendDraft(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "send_failed",
			Message: err.Error(),
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

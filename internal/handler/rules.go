package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"mailflow-go/internal/model"
)

// GetRules returns a workspace's sender rules
func (h *Handlers) GetRules(c *gin.Context) {
	rules, err := h.rules.ListAll(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch rules",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	responses := make([]SenderRuleResponse, 0, len(rules))
	for _, rule := range rules {
		responses = append(responses, toRuleResponse(&rule))
	}
	c.JSON(http.StatusOK, responses)
}

// CreateRule creates a sender rule for a workspace
func (h *Handlers) CreateRule(c *gin.Context) {
	var req SenderRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}
	if !validMatchType(req.MatchType) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "match_type must be exact, domain or wildcard",
			Code:    http.StatusBadRequest,
		})
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	matchType := req.MatchType
	if matchType == "" {
		matchType = model.MatchExact
	}

	rule := model.SenderRule{
		WorkspaceID:   c.Param("id"),
		Pattern:       req.Pattern,
		MatchType:     matchType,
		Category:      req.Category,
		RequiresReply: req.RequiresReply,
		Enabled:       enabled,
	}
	if err := h.rules.Create(c.Request.Context(), &rule); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to create rule",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusCreated, toRuleResponse(&rule))
}

// UpdateRule rewrites a sender rule
func (h *Handlers) UpdateRule(c *gin.Context) {
	id, ok := parseRuleID(c)
	if !ok {
		return
	}

	rule, err := h.rules.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Rule not found",
				Code:    http.StatusNotFound,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch rule",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	var req SenderRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}
	if !validMatchType(req.MatchType) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "match_type must be exact, domain or wildcard",
			Code:    http.StatusBadRequest,
		})
		return
	}

	rule.Pattern = req.Pattern
	if req.MatchType != "" {
		rule.MatchType = req.MatchType
	}
	rule.Category = req.Category
	rule.RequiresReply = req.RequiresReply
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}

	if err := h.rules.Update(c.Request.Context(), rule); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to update rule",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, toRuleResponse(rule))
}

// DeleteRule removes a sender rule
func (h *Handlers) DeleteRule(c *gin.Context) {
	id, ok := parseRuleID(c)
	if !ok {
		return
	}
	if err := h.rules.Delete(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to delete rule",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func parseRuleID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Invalid rule ID",
			Code:    http.StatusBadRequest,
		})
		return 0, false
	}
	return uint(id), true
}

func validMatchType(t string) bool {
	switch t {
	case "", model.MatchExact, model.MatchDomain, model.MatchWildcard:
		return true
	default:
		return false
	}
}

func toRuleResponse(rule *model.SenderRule) SenderRuleResponse {
	return SenderRuleResponse{
		ID:            rule.ID,
		Pattern:       rule.Pattern,
		MatchType:     rule.MatchType,
		Category:      rule.Category,
		RequiresReply: rule.RequiresReply,
		Enabled:       rule.Enabled,
		CreatedAt:     rule.CreatedAt,
		UpdatedAt:     rule.UpdatedAt,
	}
}

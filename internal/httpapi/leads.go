package httpapi

import (
	"net/http"
	"strconv"

	"crm-platform/internal/leads"

	"github.com/gin-gonic/gin"
)

// Fetch leases general-pool leads to the caller. Quota refusals are a 200
// with blocked_reason set, not an error.
func (h Handlers) Fetch(c *gin.Context) {
	if h.Assign == nil {
		notConfigured(c, "assignment")
		return
	}
	a, ok := agent(c)
	if !ok {
		return
	}
	res, err := h.Assign.Fetch(c.Request.Context(), a)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) FetchRecycled(c *gin.Context) {
	if h.Assign == nil {
		notConfigured(c, "assignment")
		return
	}
	a, ok := agent(c)
	if !ok {
		return
	}
	res, err := h.Assign.FetchRecycled(c.Request.Context(), a)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) RecycledStats(c *gin.Context) {
	if h.Assign == nil {
		notConfigured(c, "assignment")
		return
	}
	a, ok := agent(c)
	if !ok {
		return
	}
	res, err := h.Assign.RecycledStats(c.Request.Context(), a)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListMyRecycled lists the caller's pinned recycled leads with days remaining.
func (h Handlers) ListMyRecycled(c *gin.Context) {
	if h.Assign == nil {
		notConfigured(c, "assignment")
		return
	}
	a, ok := agent(c)
	if !ok {
		return
	}
	res, err := h.Assign.ListMyRecycled(c.Request.Context(), a)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type responseChangeRequest struct {
	ResponseID int64 `json:"lead_response_id"`
}

// ChangeResponse records a response category and moves the lead to the
// caller's recycled pin.
func (h Handlers) ChangeResponse(c *gin.Context) {
	if h.Assign == nil {
		notConfigured(c, "assignment")
		return
	}
	a, ok := agent(c)
	if !ok {
		return
	}
	leadID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || leadID <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid lead id"})
		return
	}
	var req responseChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.ResponseID <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "lead_response_id required"})
		return
	}

	res, err := h.Assign.ChangeResponse(c.Request.Context(), a, leads.ResponseChange{
		LeadID:             leadID,
		ResponseCategoryID: req.ResponseID,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h Handlers) ListMine(c *gin.Context) {
	if h.Assign == nil {
		notConfigured(c, "assignment")
		return
	}
	a, ok := agent(c)
	if !ok {
		return
	}
	res, err := h.Assign.ListMine(c.Request.Context(), a)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Release frees one lease. Unknown, expired and foreign leases are all 404.
func (h Handlers) Release(c *gin.Context) {
	if h.Assign == nil {
		notConfigured(c, "assignment")
		return
	}
	a, ok := agent(c)
	if !ok {
		return
	}
	if err := h.Assign.Release(c.Request.Context(), a, c.Param("id")); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": 1, "message": "Lease released"})
}

type releaseManyRequest struct {
	LeaseIDs []string `json:"lease_ids"`
}

// ReleaseMany frees all listed leases or none.
func (h Handlers) ReleaseMany(c *gin.Context) {
	if h.Assign == nil {
		notConfigured(c, "assignment")
		return
	}
	a, ok := agent(c)
	if !ok {
		return
	}
	var req releaseManyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	n, err := h.Assign.ReleaseMany(c.Request.Context(), a, req.LeaseIDs)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": n, "message": "Leases released"})
}

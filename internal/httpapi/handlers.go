package httpapi

import (
	"errors"
	"net/http"

	"crm-platform/internal/assignment"
	"crm-platform/internal/auth"
	"crm-platform/internal/fetchconfig"
	"crm-platform/internal/leads"
	"crm-platform/internal/maintenance"
	"crm-platform/internal/reporting"
	"crm-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Assign      *assignment.Service
	Configs     *fetchconfig.Admin
	Reports     *reporting.Service
	Maintenance *maintenance.Scheduler
}

// agent returns the caller or aborts with 401.
func agent(c *gin.Context) (leads.Agent, bool) {
	a, err := auth.AgentFrom(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return leads.Agent{}, false
	}
	return a, true
}

func notConfigured(c *gin.Context, what string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": what + " not configured"})
}

// writeErr maps service errors to status codes. Anything unrecognized is a 500.
func writeErr(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	body := gin.H{"error": err.Error()}

	switch {
	case errors.Is(err, assignment.ErrLeaseNotFound),
		errors.Is(err, assignment.ErrLeadNotFound),
		errors.Is(err, fetchconfig.ErrNotFound),
		errors.Is(err, maintenance.ErrUnknownJob):
		status = http.StatusNotFound
	case errors.Is(err, assignment.ErrEmptyLeaseIDs),
		errors.Is(err, fetchconfig.ErrInvalid),
		errors.Is(err, reporting.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, assignment.ErrInvalidAgent):
		status = http.StatusUnauthorized
	case errors.Is(err, assignment.ErrNotEligible),
		errors.Is(err, fetchconfig.ErrDuplicate),
		errors.Is(err, maintenance.ErrJobRunning):
		status = http.StatusConflict
	case errors.Is(err, assignment.ErrLeadBusy):
		status = http.StatusConflict
		body["retryable"] = true
	case errors.Is(err, assignment.ErrFetchInProgress):
		status = http.StatusTooManyRequests
		body["retryable"] = true
	case errors.Is(err, assignment.ErrUnavailable):
		status = http.StatusServiceUnavailable
		body = gin.H{"error": assignment.ErrUnavailable.Error(), "retryable": true}
	}

	if status >= 500 {
		logger.FromGin(c).Error("request failed", "status", status, "err", err)
		if status == http.StatusInternalServerError {
			body = gin.H{"error": "internal error"}
		}
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

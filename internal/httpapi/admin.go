package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"crm-platform/internal/auth"
	"crm-platform/internal/fetchconfig"
	"crm-platform/internal/reporting"

	"github.com/gin-gonic/gin"
)

// --- Fetch configs ---

func (h Handlers) ListFetchConfigs(c *gin.Context) {
	if h.Configs == nil {
		notConfigured(c, "fetch configs")
		return
	}
	rows, err := h.Configs.List(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	if rows == nil {
		rows = []fetchconfig.Row{}
	}
	c.JSON(http.StatusOK, gin.H{"configs": rows, "defaults": h.Configs.Defaults()})
}

func (h Handlers) GetFetchConfig(c *gin.Context) {
	if h.Configs == nil {
		notConfigured(c, "fetch configs")
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	row, err := h.Configs.Get(c.Request.Context(), id)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (h Handlers) CreateFetchConfig(c *gin.Context) {
	if h.Configs == nil {
		notConfigured(c, "fetch configs")
		return
	}
	var row fetchconfig.Row
	if err := c.ShouldBindJSON(&row); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	row.ID = 0
	actorID, _ := auth.UserID(c.Request.Context())
	out, err := h.Configs.Create(c.Request.Context(), actorID, row)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h Handlers) UpdateFetchConfig(c *gin.Context) {
	if h.Configs == nil {
		notConfigured(c, "fetch configs")
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var row fetchconfig.Row
	if err := c.ShouldBindJSON(&row); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	row.ID = id
	actorID, _ := auth.UserID(c.Request.Context())
	out, err := h.Configs.Update(c.Request.Context(), actorID, row)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) DeleteFetchConfig(c *gin.Context) {
	if h.Configs == nil {
		notConfigured(c, "fetch configs")
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	actorID, _ := auth.UserID(c.Request.Context())
	if err := h.Configs.Delete(c.Request.Context(), actorID, id); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ResolveFetchConfig previews the config an agent with role_id/branch_id
// would get.
func (h Handlers) ResolveFetchConfig(c *gin.Context) {
	if h.Configs == nil {
		notConfigured(c, "fetch configs")
		return
	}
	var branchID *int64
	if raw := c.Query("branch_id"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid branch_id"})
			return
		}
		branchID = &v
	}
	res, err := h.Configs.Preview(c.Request.Context(), c.Query("role_id"), branchID)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// --- Stats ---

// LeadStats reports engine-wide counts. from/to are inclusive YYYY-MM-DD days;
// both absent means today.
func (h Handlers) LeadStats(c *gin.Context) {
	if h.Reports == nil {
		notConfigured(c, "reporting")
		return
	}
	var req reporting.LeadStatsRequest
	if from, to := c.Query("from"), c.Query("to"); from != "" || to != "" {
		f, err1 := time.Parse(time.DateOnly, from)
		t, err2 := time.Parse(time.DateOnly, to)
		if err1 != nil || err2 != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from and to must both be YYYY-MM-DD"})
			return
		}
		req.Range = reporting.TimeRange{From: f, To: t.AddDate(0, 0, 1)}
	}
	out, err := h.Reports.LeadStats(c.Request.Context(), req)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- Maintenance ---

func (h Handlers) MaintenanceStatus(c *gin.Context) {
	if h.Maintenance == nil {
		notConfigured(c, "maintenance")
		return
	}
	c.JSON(http.StatusOK, h.Maintenance.Status())
}

func (h Handlers) RunMaintenance(c *gin.Context) {
	if h.Maintenance == nil {
		notConfigured(c, "maintenance")
		return
	}
	job := c.Param("job")
	n, err := h.Maintenance.RunNow(c.Request.Context(), job)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job, "affected": n})
}

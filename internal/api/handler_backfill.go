package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RunBackfill handles POST /api/backfill/:date.
func (h *Handler) RunBackfill(c *gin.Context) {
	report, err := h.sweeper.Sweep(c.Request.Context(), c.Param("date"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"table-allocation-backend/internal/apperr"
	"table-allocation-backend/internal/model"
)

func partySizeParam(c *gin.Context) (int, error) {
	ps, err := strconv.Atoi(c.Param("party_size"))
	if err != nil || ps < 1 {
		return 0, apperr.Validation("api", "party size must be a positive integer")
	}
	return ps, nil
}

// GetPriorities handles GET /api/priorities/:party_size.
func (h *Handler) GetPriorities(c *gin.Context) {
	ps, err := partySizeParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	items, err := h.directory.PriorityOrder(c.Request.Context(), ps)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"party_size": ps, "items": items})
}

type reorderRequest struct {
	Items []model.PriorityItem `json:"items" binding:"required"`
}

// PutPriorities handles PUT /api/priorities/:party_size, replacing the order
// with a permutation of the stored entries.
func (h *Handler) PutPriorities(c *gin.Context) {
	ps, err := partySizeParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var req reorderRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.directory.ReorderPriorities(c.Request.Context(), ps, req.Items); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type moveRequest struct {
	From *int `json:"from" binding:"required"`
	To   *int `json:"to" binding:"required"`
}

// MovePriority handles POST /api/priorities/:party_size/move.
func (h *Handler) MovePriority(c *gin.Context) {
	ps, err := partySizeParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var req moveRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.directory.MovePriority(c.Request.Context(), ps, *req.From, *req.To); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GeneratePriorities handles POST /api/priorities/:party_size/generate.
func (h *Handler) GeneratePriorities(c *gin.Context) {
	ps, err := partySizeParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	created, err := h.directory.GenerateMissingPriorities(c.Request.Context(), ps)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"party_size": ps, "created": created})
}

// RepairPriorities handles POST /api/priorities/:party_size/repair.
func (h *Handler) RepairPriorities(c *gin.Context) {
	ps, err := partySizeParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.directory.RepairPriorities(c.Request.Context(), ps); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

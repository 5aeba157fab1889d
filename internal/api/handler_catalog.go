package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"table-allocation-backend/internal/model"
)

type tableResponse struct {
	ID             string  `json:"id"`
	Label          string  `json:"label"`
	SeatCount      int     `json:"seat_count"`
	SectionID      *string `json:"section_id"`
	PriorityRank   int     `json:"priority_rank"`
	OnlineBookable bool    `json:"online_bookable"`
}

func newTableResponse(t model.Table) tableResponse {
	return tableResponse{
		ID:             t.ID,
		Label:          t.Label,
		SeatCount:      t.SeatCount,
		SectionID:      t.SectionID,
		PriorityRank:   t.PriorityRank,
		OnlineBookable: t.OnlineBookable,
	}
}

// GetTables handles GET /api/tables.
func (h *Handler) GetTables(c *gin.Context) {
	tables, err := h.directory.ListActiveTables(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	responses := make([]tableResponse, 0, len(tables))
	for _, t := range tables {
		responses = append(responses, newTableResponse(t))
	}
	c.JSON(http.StatusOK, responses)
}

// DeleteTable handles DELETE /api/tables/:id. Tables are only ever retired.
func (h *Handler) DeleteTable(c *gin.Context) {
	if err := h.directory.RetireTable(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type joinGroupResponse struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	MaxPartySize int      `json:"max_party_size"`
	TableIDs     []string `json:"table_ids"`
}

// GetJoinGroups handles GET /api/join-groups.
func (h *Handler) GetJoinGroups(c *gin.Context) {
	groups, err := h.directory.ListJoinGroups(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	responses := make([]joinGroupResponse, 0, len(groups))
	for _, g := range groups {
		responses = append(responses, joinGroupResponse{
			ID:           g.ID,
			Name:         g.Name,
			MaxPartySize: g.MaxPartySize,
			TableIDs:     g.MemberIDs(),
		})
	}
	c.JSON(http.StatusOK, responses)
}

// SectionResponse represents the API response for a single section.
type SectionResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	TotalTables int64  `json:"total_tables"`
	TotalSeats  int64  `json:"total_seats"`
}

// GetSections handles GET /api/sections.
func (h *Handler) GetSections(c *gin.Context) {
	ctx := c.Request.Context()
	sections, err := h.store.ListSections(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}

	// One aggregate over every active table instead of a query per section.
	type aggRow struct {
		SectionID   string
		TotalTables int64
		TotalSeats  int64
	}
	var aggs []aggRow
	if err := h.store.DB().WithContext(ctx).
		Model(&model.Table{}).
		Select("section_id AS section_id, COUNT(*) AS total_tables, COALESCE(SUM(seat_count), 0) AS total_seats").
		Where("status = ? AND section_id IS NOT NULL", model.TableStatusActive).
		Group("section_id").
		Scan(&aggs).Error; err != nil {
		h.fail(c, err)
		return
	}

	aggMap := make(map[string]aggRow, len(aggs))
	for _, a := range aggs {
		aggMap[a.SectionID] = a
	}

	responses := make([]SectionResponse, 0, len(sections))
	for _, s := range sections {
		a := aggMap[s.ID]
		responses = append(responses, SectionResponse{
			ID:          s.ID,
			Name:        s.Name,
			TotalTables: a.TotalTables,
			TotalSeats:  a.TotalSeats,
		})
	}
	c.JSON(http.StatusOK, responses)
}

package audit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"veritrace-system/internal/apperr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

func (h *Handler) error(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"success": false,
		"error":   message,
	})
}

// GET /audit/entity/:entity_type/:entity_id
func (h *Handler) GetEntityTrail(c *gin.Context) {
	entityType := c.Param("entity_type")
	entityID := c.Param("entity_id")

	entries, err := h.svc.EntityTrail(c.Request.Context(), entityType, entityID)
	if err != nil {
		h.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}
	h.success(c, entries)
}

// GET /audit/search
func (h *Handler) Search(c *gin.Context) {
	filter := SearchFilter{
		EntityType: c.Query("entity_type"),
		EntityID:   c.Query("entity_id"),
		ChangedBy:  c.Query("changed_by"),
	}

	if v := c.Query("from_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.error(c, http.StatusBadRequest, "Invalid from_date, expected RFC3339")
			return
		}
		filter.FromDate = &t
	}
	if v := c.Query("to_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.error(c, http.StatusBadRequest, "Invalid to_date, expected RFC3339")
			return
		}
		filter.ToDate = &t
	}

	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "100"))
	filter.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	entries, err := h.svc.Search(c.Request.Context(), filter)
	if err != nil {
		h.error(c, apperr.HTTPStatus(err), err.Error())
		return
	}
	h.success(c, entries)
}

package audit

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes the audit trail for compliance review. Read-only;
// callers attach admin-level auth at the group.
type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) Register(g *echo.Group) {
	g.GET("/audit", h.Search)
}

func (h *Handler) Search(c echo.Context) error {
	resourceType := c.QueryParam("resource_type")
	resourceID := c.QueryParam("resource_id")
	if resourceType == "" || resourceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "resource_type and resource_id are required")
	}

	entries, err := h.store.Search(c.Request().Context(), resourceType, resourceID, 0)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to search audit log")
	}
	if entries == nil {
		entries = []*Entry{}
	}
	return c.JSON(http.StatusOK, entries)
}

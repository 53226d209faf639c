package invoice

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicpay/clinicpay/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the read API on g. Callers attach auth middleware;
// the handler assumes the request is already authorized.
func (h *Handler) Register(g *echo.Group) {
	g.GET("/invoices", h.List)
	g.GET("/invoices/:id", h.Get)
	g.GET("/invoices/:id/payments", h.ListPayments)
	g.GET("/patients/:patientId/invoices", h.ListByPatient)
}

func (h *Handler) List(c echo.Context) error {
	if corr := c.QueryParam("correlation_id"); corr != "" {
		inv, err := h.svc.GetByCorrelationID(c.Request().Context(), corr)
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "invoice not found")
		}
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to get invoice")
		}
		return c.JSON(http.StatusOK, pagination.NewResponse([]*Invoice{inv}, 1, 1, 0))
	}

	var status Status
	if raw := c.QueryParam("status"); raw != "" {
		parsed, err := ParseStatus(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		status = parsed
	}

	p := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), status, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list invoices")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

// Get resolves by invoice id, or by invoice number when the path
// segment is not a uuid.
func (h *Handler) Get(c echo.Context) error {
	var (
		inv *Invoice
		err error
	)
	if id, parseErr := uuid.Parse(c.Param("id")); parseErr == nil {
		inv, err = h.svc.Get(c.Request().Context(), id)
	} else {
		inv, err = h.svc.GetByNumber(c.Request().Context(), c.Param("id"))
	}
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "invoice not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get invoice")
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) ListPayments(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid invoice id")
	}

	payments, err := h.svc.Payments(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "invoice not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list payments")
	}
	if payments == nil {
		payments = []*Payment{}
	}
	return c.JSON(http.StatusOK, payments)
}

func (h *Handler) ListByPatient(c echo.Context) error {
	patientID := c.Param("patientId")
	if patientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing patient id")
	}

	p := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list invoices")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

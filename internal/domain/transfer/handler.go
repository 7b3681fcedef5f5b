package transfer

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carehome/bedengine/internal/domain/apperr"
	"github.com/carehome/bedengine/internal/platform/auth"
	"github.com/carehome/bedengine/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/transfers", auth.RequireRole(auth.RoleNurse, auth.RoleFacilityManager))
	read.GET("", h.ListTransfers)
	read.GET("/:id", h.GetTransfer)
	read.POST("", h.RequestTransfer)
	read.POST("/:id/execute", h.ExecuteTransfer)
	read.POST("/:id/cancel", h.CancelTransfer)

	approve := api.Group("/transfers", auth.RequireRole(auth.RoleFacilityManager))
	approve.POST("/:id/approve", h.ApproveTransfer)
	approve.POST("/:id/reject", h.RejectTransfer)
}

func httpError(err error) error {
	return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) RequestTransfer(c echo.Context) error {
	var in RequestInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req, err := h.svc.Request(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, req)
}

func (h *Handler) GetTransfer(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	req, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) ListTransfers(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{
		SourceBedID: c.QueryParam("source_bed_id"),
		ResidentID:  c.QueryParam("resident_id"),
		Limit:       pg.Limit,
		Offset:      pg.Offset,
	}
	if v := c.QueryParam("status"); v != "" {
		f.Status = Status(v)
		if !f.Status.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
		}
	}
	items, total, err := h.svc.List(c.Request().Context(), f)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

func (h *Handler) ApproveTransfer(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		TargetBedID   string     `json:"target_bed_id"`
		ScheduledDate *time.Time `json:"scheduled_date"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req, err := h.svc.Approve(c.Request().Context(), id, body.TargetBedID, body.ScheduledDate)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) RejectTransfer(c echo.Context) error {
	return h.closeTransfer(c, h.svc.Reject)
}

func (h *Handler) CancelTransfer(c echo.Context) error {
	return h.closeTransfer(c, h.svc.Cancel)
}

func (h *Handler) closeTransfer(c echo.Context, fn func(ctx context.Context, id uuid.UUID, reason string) (*Request, error)) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req, err := fn(c.Request().Context(), id, body.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) ExecuteTransfer(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	req, err := h.svc.Execute(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, req)
}

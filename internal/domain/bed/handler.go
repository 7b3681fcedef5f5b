package bed

import (
	"net/http"
	"strconv"
	"strings"
	"time"

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
	readRole := auth.RequireRole(auth.RoleNurse, auth.RoleFacilityManager, auth.RoleMaintenance)
	writeRole := auth.RequireRole(auth.RoleNurse, auth.RoleFacilityManager)

	read := api.Group("/beds", readRole)
	read.GET("", h.ListBeds)
	read.GET("/:id", h.GetBed)

	write := api.Group("/beds", writeRole)
	write.POST("/:id/assign", h.AssignBed)
	write.POST("/:id/reserve", h.ReserveBed)
	write.POST("/:id/cancel-reservation", h.CancelReservation)
	write.POST("/:id/discharge", h.DischargeBed)
	write.POST("/:id/isolate", h.IsolateBed)
	write.POST("/:id/end-isolation", h.EndIsolation)

	manage := api.Group("/beds", auth.RequireRole(auth.RoleFacilityManager))
	manage.POST("", h.ProvisionBed)
	manage.DELETE("/:id", h.DecommissionBed)

	admin := api.Group("/beds", auth.RequireRole(auth.RoleAdmin))
	admin.PATCH("/:id/status", h.SetStatus)
}

func httpError(err error) error {
	return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
}

func (h *Handler) ProvisionBed(c echo.Context) error {
	var b Bed
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	created, err := h.svc.Provision(c.Request().Context(), &b)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) GetBed(c echo.Context) error {
	b, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBeds(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{
		FacilityID: c.QueryParam("facility_id"),
		Wing:       c.QueryParam("wing"),
		Limit:      pg.Limit,
		Offset:     pg.Offset,
	}
	if v := c.QueryParam("status"); v != "" {
		for _, part := range strings.Split(v, ",") {
			st, err := ParseStatus(strings.TrimSpace(part))
			if err != nil {
				return httpError(err)
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if v := c.QueryParam("floor"); v != "" {
		floor, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid floor")
		}
		f.Floor = &floor
	}

	items, total, err := h.svc.List(c.Request().Context(), f)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

func (h *Handler) DecommissionBed(c echo.Context) error {
	if err := h.svc.Decommission(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type assignRequest struct {
	ResidentID string    `json:"resident_id"`
	Admission  Admission `json:"admission"`
}

func (h *Handler) AssignBed(c echo.Context) error {
	var req assignRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.Assign(c.Request().Context(), c.Param("id"), req.ResidentID, req.Admission)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

type reserveRequest struct {
	ResidentID      string    `json:"resident_id"`
	ExpectedArrival time.Time `json:"expected_arrival"`
}

func (h *Handler) ReserveBed(c echo.Context) error {
	var req reserveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.Reserve(c.Request().Context(), c.Param("id"), req.ResidentID, req.ExpectedArrival)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) CancelReservation(c echo.Context) error {
	b, err := h.svc.CancelReservation(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) DischargeBed(c echo.Context) error {
	b, err := h.svc.Discharge(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) IsolateBed(c echo.Context) error {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.Isolate(c.Request().Context(), c.Param("id"), req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) EndIsolation(c echo.Context) error {
	b, err := h.svc.EndIsolation(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) SetStatus(c echo.Context) error {
	var req struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	to, err := ParseStatus(req.Status)
	if err != nil {
		return httpError(err)
	}
	b, err := h.svc.SetStatus(c.Request().Context(), c.Param("id"), to)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

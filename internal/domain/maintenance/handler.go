package maintenance

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/carehome/bedengine/internal/domain/apperr"
	"github.com/carehome/bedengine/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	write := api.Group("/beds", auth.RequireRole(auth.RoleFacilityManager, auth.RoleMaintenance))
	write.POST("/:id/maintenance", h.ScheduleMaintenance)
	write.POST("/:id/maintenance/start", h.StartMaintenance)
	write.POST("/:id/maintenance/complete", h.CompleteMaintenance)

	read := api.Group("/maintenance", auth.RequireRole(auth.RoleNurse, auth.RoleFacilityManager, auth.RoleMaintenance))
	read.GET("/overdue", h.ListOverdue)
}

func httpError(err error) error {
	return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
}

func (h *Handler) ScheduleMaintenance(c echo.Context) error {
	var in ScheduleInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.Schedule(c.Request().Context(), c.Param("id"), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) StartMaintenance(c echo.Context) error {
	b, err := h.svc.Start(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) CompleteMaintenance(c echo.Context) error {
	var body struct {
		IssuesFound []string `json:"issues_found"`
		Notes       string   `json:"notes"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.Complete(c.Request().Context(), c.Param("id"), body.IssuesFound, body.Notes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListOverdue(c echo.Context) error {
	items, err := h.svc.FindOverdue(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  items,
		"total": len(items),
	})
}

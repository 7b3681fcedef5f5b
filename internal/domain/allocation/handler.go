package allocation

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/carehome/bedengine/internal/domain/apperr"
	"github.com/carehome/bedengine/internal/platform/auth"
)

type Handler struct {
	matcher *Matcher
}

func NewHandler(m *Matcher) *Handler {
	return &Handler{matcher: m}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/allocation", auth.RequireRole(auth.RoleNurse, auth.RoleFacilityManager))
	g.POST("/match", h.Match)
	g.POST("/rank", h.RankBeds)
}

func (h *Handler) Match(c echo.Context) error {
	var crit Criteria
	if err := c.Bind(&crit); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m, ok, err := h.matcher.FindOptimalBed(c.Request().Context(), crit)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no matching bed")
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) RankBeds(c echo.Context) error {
	var crit Criteria
	if err := c.Bind(&crit); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ranked, err := h.matcher.Rank(c.Request().Context(), crit)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	if ranked == nil {
		ranked = []Match{}
	}
	return c.JSON(http.StatusOK, ranked)
}

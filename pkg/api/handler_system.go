package api

import (
	"fmt"
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// listStrategiesHandler handles GET /api/v1/strategies. The catalogue is
// fixed at startup, so the response is safe to cache client-side.
func (s *Server) listStrategiesHandler(c *echo.Context) error {
	infos := s.experiments.Strategies()
	out := make([]StrategyResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, StrategyResponse{
			ID:               info.ID,
			Family:           string(info.Family),
			RequiresFeedback: info.RequiresFeedback,
			IdentityCapable:  info.IdentityCapable,
			Description:      info.Description,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// listProvidersHandler handles GET /api/v1/providers.
func (s *Server) listProvidersHandler(c *echo.Context) error {
	out := make([]ProviderResponse, 0, s.cfg.Providers.Len())
	for _, name := range s.cfg.Providers.Names() {
		p, _ := s.cfg.Providers.Get(name)
		resp := ProviderResponse{Name: p.Name, APIBase: p.APIBase}
		models := map[string]string{}
		if p.ModelAttacker != "" {
			models["attacker"] = p.ModelAttacker
		}
		if p.ModelTarget != "" {
			models["target"] = p.ModelTarget
		}
		if p.ModelJudge != "" {
			models["judge"] = p.ModelJudge
		}
		if len(models) > 0 {
			resp.Models = models
		}
		out = append(out, resp)
	}
	return c.JSON(http.StatusOK, out)
}

// listBreakersHandler handles GET /api/v1/breakers.
func (s *Server) listBreakersHandler(c *echo.Context) error {
	if s.breakers == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "circuit breakers not available")
	}
	return c.JSON(http.StatusOK, s.breakers.Stats())
}

// resetBreakerHandler handles POST /api/v1/breakers/:provider/:role/reset.
// Resetting a breaker that was never created is a 404; breakers come into
// existence on first use.
func (s *Server) resetBreakerHandler(c *echo.Context) error {
	if s.cfg.DemoMode {
		return echo.NewHTTPError(http.StatusForbidden, "demo mode is read-only")
	}
	if s.breakers == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "circuit breakers not available")
	}
	provider := c.Param("provider")
	role := c.Param("role")
	if provider == "" || role == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "provider and role are required")
	}
	name := provider + "/" + role
	if !s.breakers.Reset(provider, role) {
		return echo.NewHTTPError(http.StatusNotFound,
			fmt.Sprintf("no breaker named %q", name))
	}
	return c.JSON(http.StatusOK, &BreakerResetResponse{
		Breaker: name,
		Message: "Breaker reset to closed",
	})
}

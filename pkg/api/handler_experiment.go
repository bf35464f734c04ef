package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/redloop-ai/redloop/pkg/models"
	"github.com/redloop-ai/redloop/pkg/services"
	"github.com/redloop-ai/redloop/pkg/store"
)

// submitExperimentHandler handles POST /api/v1/experiments.
// Creates an experiment in "pending" status and returns immediately; the
// worker pool picks it up.
func (s *Server) submitExperimentHandler(c *echo.Context) error {
	if s.cfg.DemoMode {
		return echo.NewHTTPError(http.StatusForbidden, "demo mode is read-only")
	}

	var req SubmitExperimentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	input := services.SubmitExperimentInput{
		Name:                 req.Name,
		Description:          req.Description,
		Attacker:             req.Attacker,
		Target:               req.Target,
		Judge:                req.Judge,
		SeedPrompts:          req.SeedPrompts,
		Strategies:           req.Strategies,
		MaxIterations:        req.MaxIterations,
		MaxConcurrentAttacks: req.MaxConcurrentAttacks,
		SuccessThreshold:     req.SuccessThreshold,
		TimeoutSeconds:       req.TimeoutSeconds,
	}

	e, err := s.experiments.Submit(c.Request().Context(), input)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusAccepted, &SubmitExperimentResponse{
		ExperimentID: e.ID,
		Status:       string(e.Status),
		Message:      "Experiment queued for execution",
	})
}

// listExperimentsHandler handles GET /api/v1/experiments.
func (s *Server) listExperimentsHandler(c *echo.Context) error {
	var f store.ListFilter
	if v := c.QueryParam("status"); v != "" {
		f.Status = models.ExperimentStatus(v)
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		f.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid offset")
		}
		f.Offset = n
	}

	if s.cfg.DemoMode {
		return s.demoList(c, f)
	}

	experiments, total, err := s.experiments.List(c.Request().Context(), f)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &ListExperimentsResponse{
		Experiments: experiments,
		Total:       total,
		Limit:       f.Limit,
		Offset:      f.Offset,
	})
}

// getExperimentHandler handles GET /api/v1/experiments/:id.
func (s *Server) getExperimentHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "experiment id is required")
	}
	if s.cfg.DemoMode {
		return s.demoGet(c, id)
	}
	e, err := s.experiments.Get(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, e)
}

// startExperimentHandler handles POST /api/v1/experiments/:id/start.
// Submission already queues the experiment, so a start on a pending
// experiment acknowledges it; starting one that is already running or
// finished is a conflict.
func (s *Server) startExperimentHandler(c *echo.Context) error {
	if s.cfg.DemoMode {
		return echo.NewHTTPError(http.StatusForbidden, "demo mode is read-only")
	}
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "experiment id is required")
	}
	if err := s.experiments.Start(c.Request().Context(), id); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &StartResponse{
		ExperimentID: id,
		Message:      "Experiment queued for execution",
	})
}

// cancelExperimentHandler handles POST /api/v1/experiments/:id/cancel.
// Cancelling a terminal experiment succeeds without effect.
func (s *Server) cancelExperimentHandler(c *echo.Context) error {
	if s.cfg.DemoMode {
		return echo.NewHTTPError(http.StatusForbidden, "demo mode is read-only")
	}
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "experiment id is required")
	}
	if err := s.experiments.Cancel(c.Request().Context(), id); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &CancelResponse{
		ExperimentID: id,
		Message:      "Cancellation requested",
	})
}

// listIterationsHandler handles GET /api/v1/experiments/:id/iterations.
func (s *Server) listIterationsHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "experiment id is required")
	}
	if s.cfg.DemoMode {
		return s.demoIterations(c, id)
	}
	iters, err := s.experiments.Iterations(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, iters)
}

// listVulnerabilitiesHandler handles GET /api/v1/experiments/:id/vulnerabilities.
func (s *Server) listVulnerabilitiesHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "experiment id is required")
	}
	if s.cfg.DemoMode {
		return s.demoVulnerabilities(c, id)
	}
	vulns, err := s.experiments.Vulnerabilities(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, vulns)
}

// reportHandler handles GET /api/v1/experiments/:id/report. Works for
// experiments in any status; a running experiment yields a partial report.
func (s *Server) reportHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "experiment id is required")
	}
	if s.cfg.DemoMode {
		return s.demoReport(c, id)
	}
	report, err := s.experiments.Report(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, report)
}

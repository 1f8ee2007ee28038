package httpapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleListEntries(c echo.Context) error {
	entries, err := s.service.ListEntries(c.Request().Context(), userID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) handleGetEntry(c echo.Context) error {
	entry, err := s.service.GetEntry(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

// AnalyzeResponse wraps an analysis with whether this call produced it.
type AnalyzeResponse struct {
	Analysis any  `json:"analysis"`
	Created  bool `json:"created"`
}

func (s *Server) handleAnalyzeEntry(c echo.Context) error {
	analysis, created, err := s.service.AnalyzeEntry(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, AnalyzeResponse{Analysis: analysis, Created: created})
}

func (s *Server) handleAnalyzeAll(c echo.Context) error {
	result, err := s.service.AnalyzeAll(c.Request().Context(), userID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleListAnalyses(c echo.Context) error {
	analyses, err := s.service.ListAnalyses(c.Request().Context(), userID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, analyses)
}

func (s *Server) handleGetAnalysis(c echo.Context) error {
	analysis, err := s.service.GetAnalysis(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, analysis)
}

const defaultSimilarLimit = 5

func (s *Server) handleFindSimilar(c echo.Context) error {
	limit := defaultSimilarLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be an integer")
		}
		limit = parsed
	}

	similar, err := s.service.FindSimilar(c.Request().Context(), userID(c), c.Param("id"), limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, similar)
}

func (s *Server) handleGenerateEmbeddings(c echo.Context) error {
	result, err := s.service.GenerateEmbeddings(c.Request().Context(), userID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// DiscoverRequest is the request body for POST /api/v1/patterns/discover.
type DiscoverRequest struct {
	Threshold float64 `json:"threshold" validate:"gte=-1,lte=1"`
}

func (s *Server) handleDiscoverPatterns(c echo.Context) error {
	var req DiscoverRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	patterns, err := s.service.DiscoverPatterns(c.Request().Context(), userID(c), req.Threshold)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, patterns)
}

// CombineRequest is the request body for POST /api/v1/combined.
type CombineRequest struct {
	EntryIDs []string `json:"entry_ids" validate:"required,min=2,dive,required"`
	Name     string   `json:"name"`
}

func (s *Server) handleCombine(c echo.Context) error {
	var req CombineRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	combined, err := s.service.CombineExperiences(c.Request().Context(), userID(c), req.EntryIDs, req.Name)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, combined)
}

func (s *Server) handleListCombined(c echo.Context) error {
	combined, err := s.service.ListCombined(c.Request().Context(), userID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, combined)
}

func (s *Server) handleGetCombined(c echo.Context) error {
	combined, err := s.service.GetCombined(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, combined)
}

// RenameRequest is the request body for PATCH /api/v1/combined/:id.
type RenameRequest struct {
	Name string `json:"name" validate:"required"`
}

func (s *Server) handleRenameCombined(c echo.Context) error {
	var req RenameRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if err := s.service.RenameCombined(c.Request().Context(), userID(c), c.Param("id"), req.Name); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDeleteCombined(c echo.Context) error {
	if err := s.service.DeleteCombined(c.Request().Context(), userID(c), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.service.GetStats(c.Request().Context(), userID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

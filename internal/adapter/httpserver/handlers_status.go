package httpserver

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/prehensile/vidille/internal/app"
	"github.com/prehensile/vidille/internal/domain"
	apperrors "github.com/prehensile/vidille/internal/errors"
)

type statusResponse struct {
	app.Status
	Recent []domain.SessionSummary `json:"recent"`
}

func (s *Server) handleStatus(c echo.Context) error {
	recent, err := s.app.History(c.Request().Context(), s.opts.HistoryLimit)
	if err != nil {
		return apperrors.UnavailableError("session history unavailable", err)
	}
	if recent == nil {
		recent = []domain.SessionSummary{}
	}

	resp := statusResponse{Status: s.app.Status(), Recent: recent}
	if resp.Sessions == nil {
		resp.Sessions = []app.LiveSession{}
	}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to write status response: %w", err)
	}
	return nil
}

// handleSessions lists closed sessions, newest first. ?limit= narrows the list.
func (s *Server) handleSessions(c echo.Context) error {
	limit := s.opts.HistoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return apperrors.ValidationError("limit must be a positive integer").WithContext("limit", raw)
		}
		limit = min(n, s.opts.HistoryLimit)
	}

	sessions, err := s.app.History(c.Request().Context(), limit)
	if err != nil {
		return apperrors.UnavailableError("session history unavailable", err)
	}
	if sessions == nil {
		sessions = []domain.SessionSummary{}
	}
	if err := c.JSON(http.StatusOK, sessions); err != nil {
		return fmt.Errorf("failed to write sessions response: %w", err)
	}
	return nil
}

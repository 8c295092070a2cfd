// Package api contains the HTTP handlers for the workflow service
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"cflux/backend/internal/logging"
	"cflux/backend/internal/repository"
	"cflux/backend/internal/services"
	"cflux/backend/pkg/models"
)

// Server holds the dependencies for the API server.
type Server struct {
	Engine *services.Engine
	Logger *logging.Logger
}

// NewServer creates a new Server.
func NewServer(engine *services.Engine, logger *logging.Logger) *Server {
	return &Server{Engine: engine, Logger: logger}
}

// HandleHealth returns basic health status (always returns 200 OK)
func (s *Server) HandleHealth(c echo.Context) error {
	status := models.HealthStatus{
		Status:    "ok",
		Service:   "workflow-service",
		Version:   "1.0.0",
		Timestamp: time.Now(),
	}
	return c.JSON(http.StatusOK, status)
}

// problem writes an RFC 7807 Problem Details response.
func problem(c echo.Context, status int, title, detail string) error {
	p := models.ProblemDetails{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(status, p)
}

// serviceError maps engine and repository failures onto problem responses.
func serviceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return problem(c, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, repository.ErrConflict):
		return problem(c, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, repository.ErrWorkflowInUse):
		return problem(c, http.StatusConflict, "Workflow In Use", err.Error())
	}
	return problem(c, http.StatusInternalServerError, "Internal Server Error", err.Error())
}

package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"vn.io.arda/greeting/internal/domain"
)

const (
	msgMissingFields = "Username, password and email are required"
	msgNotQueued     = "registration could not be queued"
	msgAccepted      = "Alright"
)

// Registrar is the registration use-case.
type Registrar interface {
	Register(ctx context.Context, reg domain.Registration) error
}

// BrokerStatus reports whether the broker connection is up.
type BrokerStatus interface {
	Connected() bool
}

// Handler holds all HTTP handler methods.
type Handler struct {
	svc    Registrar
	broker BrokerStatus
}

// NewHandler creates a new Handler.
func NewHandler(svc Registrar, broker BrokerStatus) *Handler {
	return &Handler{svc: svc, broker: broker}
}

// Register POST /register
func (h *Handler) Register(c echo.Context) error {
	var reg domain.Registration
	if err := c.Bind(&reg); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": msgMissingFields})
	}

	err := h.svc.Register(c.Request().Context(), reg)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, map[string]string{"data": msgAccepted})
	case errors.Is(err, domain.ErrInvalidRegistration):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": msgMissingFields})
	default:
		log.Error().Err(err).Str("username", reg.Username).Msg("registration publish failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": msgNotQueued})
	}
}

// --- Healthcheck ---

// Health GET /health
func (h *Handler) Health(c echo.Context) error {
	connected := h.broker.Connected()
	status, code := "ok", http.StatusOK
	if !connected {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]any{
		"status":           status,
		"broker_connected": connected,
	})
}

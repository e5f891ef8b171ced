package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/cprlink/domain/entities"
	"github.com/satriahrh/cprlink/internal/auth"
	"github.com/satriahrh/cprlink/internal/websocket"
	"github.com/satriahrh/cprlink/usecase"
)

const claimsContextKey = "claims"

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, hub *websocket.Hub, documents *usecase.DocumentService, issuer *auth.Issuer, logger *zap.Logger) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "cprlink-server",
		})
	})

	// API v1 routes
	v1 := e.Group("/api/v1")

	// Device APIs
	v1.POST("/device/auth", func(c echo.Context) error {
		return deviceAuth(c, issuer, logger)
	})

	// Shared alert documents
	pairings := v1.Group("/pairings", requireAuth(issuer, logger))
	pairings.GET("/:code", func(c echo.Context) error {
		return getPairing(c, documents, logger)
	})
	pairings.PATCH("/:code", func(c echo.Context) error {
		return patchPairing(c, documents, logger)
	})

	// WebSocket endpoint with JWT validation
	e.GET("/ws", func(c echo.Context) error {
		claims := c.Get(claimsContextKey).(*auth.JWTClaims)
		return websocket.HandleWebSocketWithAuth(hub, c, claims, logger)
	}, requireAuth(issuer, logger))
}

func deviceAuth(c echo.Context, issuer *auth.Issuer, logger *zap.Logger) error {
	var req DeviceAuthRequest

	// Bind and validate request
	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind device auth request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	// A pairing code is the shared secret between the two devices
	token, expiresAt, err := issuer.GeneratePairingToken(req.PairingCode, entities.Role(req.Role))
	if err != nil {
		if errors.Is(err, entities.ErrInvalidPairingCode) || errors.Is(err, entities.ErrInvalidRole) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_fields",
				Message: err.Error(),
			})
		}
		logger.Error("Failed to generate pairing token",
			zap.String("pairing_code", req.PairingCode),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	logger.Info("Device authenticated",
		zap.String("pairing_code", req.PairingCode),
		zap.String("role", req.Role))

	return c.JSON(http.StatusOK, DeviceAuthResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

func getPairing(c echo.Context, documents *usecase.DocumentService, logger *zap.Logger) error {
	claims, ok := authorizedClaims(c)
	if !ok {
		return c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "forbidden",
			Message: "Token does not grant access to this pairing",
		})
	}

	doc, err := documents.Get(c.Request().Context(), claims.PairingCode)
	if err != nil {
		return documentError(c, err, logger)
	}
	return c.JSON(http.StatusOK, doc)
}

func patchPairing(c echo.Context, documents *usecase.DocumentService, logger *zap.Logger) error {
	claims, ok := authorizedClaims(c)
	if !ok {
		return c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "forbidden",
			Message: "Token does not grant access to this pairing",
		})
	}

	var patch entities.AlertPatch
	if err := c.Bind(&patch); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid patch format",
		})
	}

	write, err := documents.Write(c.Request().Context(), claims.Role, claims.PairingCode, patch)
	if err != nil {
		return documentError(c, err, logger)
	}
	return c.JSON(http.StatusOK, write)
}

// authorizedClaims returns the token claims and whether they cover the :code path parameter
func authorizedClaims(c echo.Context) (*auth.JWTClaims, bool) {
	claims := c.Get(claimsContextKey).(*auth.JWTClaims)
	return claims, c.Param("code") == claims.PairingCode
}

func documentError(c echo.Context, err error, logger *zap.Logger) error {
	switch {
	case errors.Is(err, entities.ErrDocumentNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()})
	case errors.Is(err, entities.ErrFieldNotWritable):
		return c.JSON(http.StatusForbidden, ErrorResponse{Error: "field_not_writable", Message: err.Error()})
	case errors.Is(err, entities.ErrEmptyPatch),
		errors.Is(err, entities.ErrInvalidStatus),
		errors.Is(err, entities.ErrInvalidPairingCode):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_patch", Message: err.Error()})
	default:
		logger.Error("Shared document operation failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to access shared document",
		})
	}
}

// requireAuth validates the bearer token and stores its claims on the context
func requireAuth(issuer *auth.Issuer, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Extract JWT token from Authorization header only
			token := auth.BearerToken(c.Request().Header.Get("Authorization"))
			if token == "" {
				logger.Warn("Request rejected: missing token", zap.String("path", c.Path()))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "missing_token",
					Message: "JWT token is required in Authorization header",
				})
			}

			claims, err := issuer.ValidateToken(token)
			if err != nil {
				logger.Warn("Request rejected: invalid token", zap.Error(err))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "invalid_token",
					Message: "Invalid or expired JWT token",
				})
			}

			c.Set(claimsContextKey, claims)
			return next(c)
		}
	}
}

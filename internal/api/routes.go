package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hitaco/assistant/internal/auth"
	"github.com/hitaco/assistant/usecase/assistant"
	"github.com/hitaco/assistant/usecase/music"
)

// Credentials are the device identity the auth endpoint checks against.
type Credentials struct {
	Serial string
	Secret string
}

// InitRoutes wires the control API onto the echo instance.
func InitRoutes(
	e *echo.Echo,
	orch *assistant.Orchestrator,
	engine *music.Engine,
	handler *music.Handler,
	creds Credentials,
	logger *zap.Logger,
) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "hitaco-assistant",
		})
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/api/v1")

	v1.POST("/device/auth", func(c echo.Context) error {
		return deviceAuth(c, creds, logger)
	})

	protected := v1.Group("", jwtMiddleware(logger))
	protected.GET("/status", func(c echo.Context) error {
		return getStatus(c, orch, engine)
	})
	protected.GET("/music/status", func(c echo.Context) error {
		return c.JSON(http.StatusOK, engine.Status())
	})
	protected.GET("/music/cache", func(c echo.Context) error {
		return c.JSON(http.StatusOK, engine.CacheStats())
	})
	protected.POST("/music/command", func(c echo.Context) error {
		return musicCommand(c, handler, logger)
	})
	protected.POST("/music/play", func(c echo.Context) error {
		return musicPlay(c, handler, logger)
	})
	protected.POST("/music/pause", func(c echo.Context) error {
		return c.JSON(http.StatusOK, handler.Handle(c.Request().Context(), "pause"))
	})
	protected.POST("/music/resume", func(c echo.Context) error {
		return c.JSON(http.StatusOK, handler.Handle(c.Request().Context(), "resume"))
	})
	protected.POST("/music/stop", func(c echo.Context) error {
		return c.JSON(http.StatusOK, handler.Handle(c.Request().Context(), "stop the music"))
	})
}

func musicPlay(c echo.Context, handler *music.Handler, logger *zap.Logger) error {
	var req MusicPlayRequest
	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind music play request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if strings.TrimSpace(req.Query) == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Song query is required",
		})
	}
	return c.JSON(http.StatusOK, handler.Handle(c.Request().Context(), "play "+req.Query))
}

func deviceAuth(c echo.Context, creds Credentials, logger *zap.Logger) error {
	var req DeviceAuthRequest
	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind device auth request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	if req.SerialNumber == "" || req.SecretKey == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Serial number and secret key are required",
		})
	}

	serialOK := subtle.ConstantTimeCompare([]byte(req.SerialNumber), []byte(creds.Serial)) == 1
	secretOK := subtle.ConstantTimeCompare([]byte(req.SecretKey), []byte(creds.Secret)) == 1
	if !serialOK || !secretOK {
		logger.Warn("Device authentication failed",
			zap.String("serial_number", req.SerialNumber))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "authentication_failed",
			Message: "Invalid device credentials",
		})
	}

	token, err := auth.GenerateDeviceToken(req.SerialNumber)
	if err != nil {
		logger.Error("Failed to generate device token", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	logger.Info("Device authenticated successfully",
		zap.String("serial_number", req.SerialNumber))

	return c.JSON(http.StatusOK, DeviceAuthResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(24 * time.Hour),
		Serial:    req.SerialNumber,
	})
}

func getStatus(c echo.Context, orch *assistant.Orchestrator, engine *music.Engine) error {
	resp := StatusResponse{
		State:    string(orch.State()),
		Playback: engine.Status(),
	}
	if conv := orch.ActiveConversation(); conv != nil {
		resp.ConversationID = conv.ID
	}
	return c.JSON(http.StatusOK, resp)
}

func musicCommand(c echo.Context, handler *music.Handler, logger *zap.Logger) error {
	var req MusicCommandRequest
	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind music command request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if strings.TrimSpace(req.Command) == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Command text is required",
		})
	}

	result := handler.Handle(c.Request().Context(), req.Command)
	return c.JSON(http.StatusOK, result)
}

// jwtMiddleware guards the control endpoints with a device token.
func jwtMiddleware(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			var token string
			if strings.HasPrefix(header, "Bearer ") {
				token = header[len("Bearer "):]
			}
			if token == "" {
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "missing_token",
					Message: "JWT token is required in Authorization header",
				})
			}

			claims, err := auth.ValidateToken(token)
			if err != nil {
				logger.Warn("Request rejected: invalid token", zap.Error(err))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "invalid_token",
					Message: "Invalid or expired JWT token",
				})
			}

			c.Set("serial", claims.Serial)
			return next(c)
		}
	}
}

package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chrono-hq/chrono_service/internal/domain/entities"
	apperrors "github.com/chrono-hq/chrono_service/pkg/errors"
)

// getUserID extracts the authenticated user ID set by the identity middleware
func getUserID(c *gin.Context) (uuid.UUID, error) {
	raw, exists := c.Get("user_id")
	if !exists {
		return uuid.Nil, errors.New("user not authenticated")
	}

	switch v := raw.(type) {
	case uuid.UUID:
		return v, nil
	case string:
		id, err := uuid.Parse(v)
		if err != nil {
			return uuid.Nil, errors.New("invalid user ID in context")
		}
		return id, nil
	default:
		return uuid.Nil, errors.New("invalid user ID in context")
	}
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, entities.ErrorResponse{Code: code, Message: message})
}

func respondUnauthorized(c *gin.Context) {
	respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
}

func respondBadRequest(c *gin.Context, message string) {
	respondError(c, http.StatusBadRequest, "BAD_INPUT", message)
}

// respondAppError translates a service error into the JSON error envelope,
// preserving the taxonomy's status code and structured details.
func respondAppError(c *gin.Context, logger *zap.Logger, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		c.JSON(apperrors.GetStatusCode(err), entities.ErrorResponse{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		})
		return
	}

	logger.Error("Unhandled error in request",
		zap.String("path", c.Request.URL.Path),
		zap.String("request_id", c.GetString("request_id")),
		zap.Error(err),
	)
	respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal server error occurred")
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperrors.BadInput("invalid " + name)
	}
	return id, nil
}

// optionalUUIDQuery parses a UUID query parameter, returning nil when absent
func optionalUUIDQuery(c *gin.Context, name string) (*uuid.UUID, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperrors.BadInput("invalid " + name)
	}
	return &id, nil
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func queryBool(c *gin.Context, name string) bool {
	return c.Query(name) == "true"
}

package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/paybridge/internal/callback"
	"github.com/smallbiznis/paybridge/internal/limit"
	merchantdomain "github.com/smallbiznis/paybridge/internal/merchant/domain"
	orderdomain "github.com/smallbiznis/paybridge/internal/order/domain"
	providerdomain "github.com/smallbiznis/paybridge/internal/provider/domain"
	"github.com/smallbiznis/paybridge/internal/reconcile"
	"github.com/smallbiznis/paybridge/internal/signature"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, reconcile.ErrInvalidSubmit),
		errors.Is(err, reconcile.ErrCurrencyMismatch),
		errors.Is(err, reconcile.ErrUTRNotApplicable),
		errors.Is(err, orderdomain.ErrAmountMismatch):
		return http.StatusBadRequest, errorPayload{Type: "validation_error", Message: err.Error()}

	case errors.Is(err, merchantdomain.ErrMerchantNotFound),
		errors.Is(err, merchantdomain.ErrConfigNotFound),
		errors.Is(err, orderdomain.ErrOrderNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: err.Error()}

	case errors.Is(err, merchantdomain.ErrMerchantInactive),
		errors.Is(err, merchantdomain.ErrConfigInactive),
		errors.Is(err, reconcile.ErrDirectionNotEnabled),
		errors.Is(err, reconcile.ErrNoRouteAvailable):
		return http.StatusForbidden, errorPayload{Type: "route_unavailable", Message: err.Error()}

	case errors.Is(err, limit.ErrAmountOutOfRange),
		errors.Is(err, limit.ErrDailyLimitExceeded),
		errors.Is(err, limit.ErrMonthlyLimitExceeded):
		return http.StatusUnprocessableEntity, errorPayload{Type: "limit_exceeded", Message: err.Error()}

	case errors.Is(err, callback.ErrUnverifiedCallback),
		errors.Is(err, signature.ErrSignatureMismatch):
		return http.StatusForbidden, errorPayload{Type: "unverified_callback", Message: err.Error()}

	case errors.Is(err, providerdomain.ErrUnsupportedOperation):
		return http.StatusConflict, errorPayload{Type: "unsupported_operation", Message: err.Error()}

	case errors.Is(err, providerdomain.ErrBusinessRejected):
		return http.StatusBadGateway, errorPayload{Type: "provider_rejected", Message: err.Error()}

	default:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}
}

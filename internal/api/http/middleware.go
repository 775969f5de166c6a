package http

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/civicq/queue-service/internal/observability"
	apperrors "github.com/civicq/queue-service/pkg/util"
)

// RegisterMiddlewares attaches global middlewares such as error handling and logging.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, metrics *observability.QueueMetrics, timeout time.Duration) {
	if timeout > 0 {
		app.Use(requestTimeoutMiddleware(timeout))
	}
	app.Use(observability.RequestLogger(logger, metrics))
	app.Use(errorHandlingMiddleware(logger, metrics))
}

func requestTimeoutMiddleware(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// fromFiberError keeps router and role-guard failures in the common error envelope.
func fromFiberError(fe *fiber.Error) *apperrors.DomainError {
	switch fe.Code {
	case http.StatusUnauthorized:
		return apperrors.ToDomainError(apperrors.NewUnauthorized(fe.Message))
	case http.StatusForbidden:
		return apperrors.ToDomainError(apperrors.NewForbidden(fe.Message))
	case http.StatusNotFound:
		return apperrors.ToDomainError(apperrors.NewNotFound("route", nil))
	}
	code := apperrors.CodeInternal
	if fe.Code < http.StatusInternalServerError {
		code = apperrors.CodeValidationFailed
	}
	return apperrors.NewDomainError(code, fe.Message, fe.Code, nil)
}

func errorHandlingMiddleware(logger *zap.Logger, metrics *observability.QueueMetrics) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				err = apperrors.NewInternalError(nil)
			}
			if err != nil {
				var domainErr *apperrors.DomainError
				var fe *fiber.Error
				if errors.As(err, &fe) {
					domainErr = fromFiberError(fe)
				} else {
					domainErr = apperrors.ToDomainError(err)
				}
				metrics.RecordError(c.Path(), c.Method(), domainErr.Code)
				response := fiber.Map{"error": fiber.Map{
					"code":    domainErr.Code,
					"message": domainErr.Message,
				}}
				if len(domainErr.Details) > 0 {
					response["error"].(fiber.Map)["details"] = domainErr.Details
				}
				if domainErr.HTTPStatus >= 500 {
					logger.Error("request failed", zap.Error(domainErr))
				}
				c.Status(domainErr.HTTPStatus)
				_ = c.JSON(response)
				err = nil
			}
		}()
		return c.Next()
	}
}

// handlers/respond.go
package handlers

import (
	"errors"
	"strings"

	"grubs-service/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// parseBody decodes the JSON body into req and runs its validate tags. A failure is
// returned as a 400 *fiber.Error for ErrorHandler to render.
func parseBody(c *fiber.Ctx, req interface{}) error {
	if err := c.BodyParser(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, validationMessage(err))
	}
	return nil
}

// ErrorHandler renders errors returned from handlers as JSON.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
		}
		return respondError(c, log, err)
	}
}

func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, strings.ToLower(fe.Field())+" failed "+fe.Tag())
	}
	return strings.Join(msgs, "; ")
}

// respondError maps a service error to its HTTP status.
func respondError(c *fiber.Ctx, log *zap.Logger, err error) error {
	kind := services.KindOf(err)
	status := fiber.StatusInternalServerError
	switch kind {
	case services.KindValidation, services.KindInsufficientBalance:
		status = fiber.StatusBadRequest
	case services.KindNotFound:
		status = fiber.StatusNotFound
	case services.KindAuthorization:
		status = fiber.StatusForbidden
	case services.KindConflict:
		status = fiber.StatusConflict
	case services.KindContention:
		status = fiber.StatusServiceUnavailable
		c.Set(fiber.HeaderRetryAfter, "1")
	}

	if status == fiber.StatusInternalServerError {
		log.Error("[HTTP] request failed", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(status).JSON(fiber.Map{"error": "something went wrong"})
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
		"kind":  kind.String(),
	})
}

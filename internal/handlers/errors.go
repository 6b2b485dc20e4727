package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"addrbook/internal/apperr"
	"addrbook/internal/platform/entry"
)

// ErrorHandler renders errors returned by handlers and middleware.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{
			"message": fe.Message,
		})
	}

	kind := apperr.KindOf(err)
	body := apperr.Body(err)

	var conflict *entry.ConflictError
	if errors.As(err, &conflict) {
		body["entry"] = conflict.Current
	}

	if kind == apperr.KindInternal {
		log.Errorw("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}

	return c.Status(apperr.Status(kind)).JSON(body)
}

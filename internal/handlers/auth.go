package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"

	"addrbook/internal/apperr"
	"addrbook/internal/config"
	"addrbook/internal/middleware"
	puser "addrbook/internal/platform/user"
)

func Register(c *fiber.Ctx) error {
	cfg := c.Locals("config").(*config.Config)
	users := c.Locals("users").(*puser.UserService)

	var input puser.RegisterInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid input"})
	}

	user, err := users.Register(c.Context(), input, cfg.BaseURL)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "A confirmation link has been sent to your email address",
		"email":   user.Email,
	})
}

func ConfirmRegistration(c *fiber.Ctx) error {
	users := c.Locals("users").(*puser.UserService)

	if err := users.Confirm(c.Context(), c.Params("username"), c.Params("token")); err != nil {
		return err
	}

	return c.JSON(fiber.Map{"message": "Your account has been confirmed"})
}

func SigninWithPassword(c *fiber.Ctx) error {
	users := c.Locals("users").(*puser.UserService)
	store := c.Locals("store").(*session.Store)

	type LoginInput struct {
		Username string `json:"username" form:"username" validate:"required"`
		Password string `json:"password" form:"password" validate:"required"`
	}

	var input LoginInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid input"})
	}

	if err := config.Validate.Struct(input); err != nil {
		return apperr.FromValidator(err)
	}

	user, err := users.Authenticate(c.Context(), input.Username, input.Password)
	if err != nil {
		return err
	}

	sess, err := store.Get(c)
	if err != nil {
		return err
	}
	if err := sess.Regenerate(); err != nil {
		return err
	}
	sess.Set(middleware.SessionUsernameKey, user.Username)
	if err := sess.Save(); err != nil {
		return err
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func Signout(c *fiber.Ctx) error {
	store := c.Locals("store").(*session.Store)

	sess, err := store.Get(c)
	if err != nil {
		return err
	}
	if err := sess.Destroy(); err != nil {
		return err
	}

	return c.SendStatus(fiber.StatusNoContent)
}

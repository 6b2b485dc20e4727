package handlers

import (
	"github.com/gofiber/fiber/v2"

	"addrbook/internal/database"
)

func GetCurrentUser(c *fiber.Ctx) error {
	user := c.Locals("user").(database.User)

	return c.JSON(user)
}

package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"

	"addrbook/internal/config"
	"addrbook/internal/platform/entry"
	puser "addrbook/internal/platform/user"
)

type Services struct {
	Config  *config.Config
	Entries *entry.Service
	Users   *puser.UserService
	Store   *session.Store
}

// Inject makes the services available to handlers through c.Locals.
func Inject(s Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("config", s.Config)
		c.Locals("entries", s.Entries)
		c.Locals("users", s.Users)
		c.Locals("store", s.Store)
		return c.Next()
	}
}

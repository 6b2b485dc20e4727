package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/session"

	"addrbook/internal/apperr"
	puser "addrbook/internal/platform/user"
)

// SessionUsernameKey holds the signed in username in the session.
const SessionUsernameKey = "username"

// AuthMiddleware admits requests carrying a session of an active account and
// stores that account in c.Locals("user").
func AuthMiddleware(c *fiber.Ctx) error {
	store := c.Locals("store").(*session.Store)
	users := c.Locals("users").(*puser.UserService)

	sess, err := store.Get(c)
	if err != nil {
		log.Errorw("failed to load session", "error", err)
		return err
	}

	username, ok := sess.Get(SessionUsernameKey).(string)
	if !ok || username == "" {
		return apperr.Unauthorized("Unauthorized")
	}

	user, err := users.GetUserByUsername(c.Context(), username)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return apperr.Unauthorized("Unauthorized")
		}
		return err
	}

	if !user.IsActive {
		return apperr.Unauthorized("Unauthorized")
	}

	c.Locals("user", *user)

	return c.Next()
}

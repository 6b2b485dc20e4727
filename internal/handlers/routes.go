package handlers

import (
	"github.com/gofiber/fiber/v2"

	"addrbook/internal/middleware"
)

// SetupRoutes mounts the API. Services must already be injected.
func SetupRoutes(app *fiber.App) {
	api := app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/register", Register)
	auth.Get("/confirm/:username/:token", ConfirmRegistration)
	auth.Post("/login", SigninWithPassword)
	auth.Post("/logout", middleware.AuthMiddleware, Signout)

	user := api.Group("/user", middleware.AuthMiddleware)
	user.Get("/me", GetCurrentUser)

	entries := api.Group("/entries", middleware.AuthMiddleware)
	entries.Get("/", SearchEntries)
	entries.Post("/", CreateEntry)
	entries.Get("/:id", GetEntry)
	entries.Put("/:id", UpdateEntry)
	entries.Delete("/:id", DeleteEntry)
	entries.Get("/:id/picture", GetEntryPicture)

	app.Use(func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNotFound)
	})
}

package server

import "github.com/gofiber/fiber/v2"

// CORS allows cross-origin requests from the configured origin.
func CORS(origin string) fiber.Handler {
	if origin == "" {
		origin = "*"
	}

	return func(c *fiber.Ctx) error {
		c.Set("Access-Control-Allow-Origin", origin)
		c.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")

		if c.Method() == fiber.MethodOptions {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.Next()
	}
}

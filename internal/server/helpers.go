package server

import (
	"strings"

	"tagapp/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

// respondError writes err with the status its application error code maps
// to.
func respondError(c *fiber.Ctx, err error) error {
	return models.RespondWithError(c, models.StatusFor(err), err)
}

// parseBody decodes the JSON body into dst or writes a 400.
func parseBody(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return models.NewValidationError("Invalid request body")
	}
	return nil
}

// param returns a trimmed copy of a route parameter. Fiber's value aliases
// the request buffer, which is reused once the handler returns.
func param(c *fiber.Ctx, name string) string {
	return strings.TrimSpace(utils.CopyString(c.Params(name)))
}

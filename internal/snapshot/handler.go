package snapshot

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler serves the reference snapshot.
type Handler struct {
	source *Source
}

// NewHandler constructs a snapshot handler.
func NewHandler(source *Source) *Handler {
	return &Handler{source: source}
}

// List returns every snapshot entry.
func (h *Handler) List(c *fiber.Ctx) error {
	return c.Status(http.StatusOK).JSON(h.source.FetchAll(c.UserContext()))
}

package balance

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes balance endpoints.
type Handler struct {
	resolver *Resolver
}

// NewHandler constructs a balance handler.
func NewHandler(resolver *Resolver) *Handler {
	return &Handler{resolver: resolver}
}

// Get resolves the balance of the :address path parameter.
func (h *Handler) Get(c *fiber.Ctx) error {
	address := strings.TrimSpace(c.Params("address"))
	if address == "" {
		return fiber.NewError(http.StatusBadRequest, "address is required")
	}
	return c.Status(http.StatusOK).JSON(h.resolver.Resolve(c.UserContext(), address))
}

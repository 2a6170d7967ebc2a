package directory

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler lists directory accounts. Signing keys never leave the process.
type Handler struct {
	directory Directory
}

// NewHandler constructs a directory handler.
func NewHandler(d Directory) *Handler {
	return &Handler{directory: d}
}

// List returns every account with its private key stripped.
func (h *Handler) List(c *fiber.Ctx) error {
	accounts, err := h.directory.ListAll(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	out := make([]Account, len(accounts))
	for i, a := range accounts {
		a.PrivateKey = ""
		out[i] = a
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"accounts": out})
}

package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/interbank/interbank_gateway/internal/transfer"
)

// RegisterTransferRoutes wires transfer endpoints. The rate limiter guards
// one-time code issuance.
func RegisterTransferRoutes(r fiber.Router, h *transfer.Handler, rateLimiter fiber.Handler) {
	if rateLimiter != nil {
		r.Post("/transfers", rateLimiter, h.Start)
	} else {
		r.Post("/transfers", h.Start)
	}
	r.Get("/transfers/:id", h.Get)
	r.Post("/transfers/:id/confirm", h.Confirm)
	r.Post("/banks/:bank/accounts/:address/transfers/:reference/recheck", h.Recheck)
}

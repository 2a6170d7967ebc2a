package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/interbank/interbank_gateway/internal/withdrawal"
)

// RegisterWithdrawalRoutes wires cash withdrawal endpoints.
func RegisterWithdrawalRoutes(r fiber.Router, h *withdrawal.Handler, rateLimiter fiber.Handler) {
	if rateLimiter != nil {
		r.Post("/withdrawals", rateLimiter, h.Start)
	} else {
		r.Post("/withdrawals", h.Start)
	}
	r.Get("/withdrawals/:id", h.Get)
	r.Post("/withdrawals/:id/confirm", h.Confirm)
}

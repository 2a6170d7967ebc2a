package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/interbank/interbank_gateway/internal/transactions"
)

// RegisterTransactionRoutes wires the per-account history endpoints.
func RegisterTransactionRoutes(r fiber.Router, h *transactions.Handler) {
	account := r.Group("/banks/:bank/accounts/:address")
	account.Get("/transactions", h.List)
	account.Get("/summary", h.Summary)
	account.Delete("/transactions", h.DeleteAll)
	account.Delete("/transactions/:id", h.Delete)
}

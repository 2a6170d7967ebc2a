package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/interbank/interbank_gateway/internal/balance"
	"github.com/interbank/interbank_gateway/internal/directory"
	"github.com/interbank/interbank_gateway/internal/snapshot"
)

// RegisterAccountRoutes wires directory, balance and snapshot endpoints.
func RegisterAccountRoutes(r fiber.Router, dir *directory.Handler, bal *balance.Handler, snap *snapshot.Handler) {
	r.Get("/accounts", dir.List)
	r.Get("/accounts/:address/balance", bal.Get)
	r.Get("/snapshot/balances", snap.List)
}

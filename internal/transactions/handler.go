package transactions

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/interbank/interbank_gateway/internal/ledger"
)

const dateLayout = "2006-01-02"

// Handler exposes history endpoints scoped to /banks/:bank/accounts/:address.
type Handler struct {
	ledger *Ledger
}

// NewHandler constructs a transaction history handler.
func NewHandler(l *Ledger) *Handler {
	return &Handler{ledger: l}
}

// List returns the filtered history, newest first.
func (h *Handler) List(c *fiber.Ctx) error {
	q := Query{
		Search: c.Query("search"),
		Type:   ledger.Type(c.Query("type")),
		Status: ledger.Status(c.Query("status")),
	}
	var err error
	if q.From, err = parseDate(c.Query("from")); err != nil {
		return fiber.NewError(http.StatusBadRequest, "from must be YYYY-MM-DD")
	}
	if q.To, err = parseDate(c.Query("to")); err != nil {
		return fiber.NewError(http.StatusBadRequest, "to must be YYYY-MM-DD")
	}

	records, err := h.ledger.Filter(c.UserContext(), c.Params("bank"), c.Params("address"), q)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"transactions": records})
}

// Summary returns record counts for the account.
func (h *Handler) Summary(c *fiber.Ctx) error {
	summary, err := h.ledger.Summary(c.UserContext(), c.Params("bank"), c.Params("address"))
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(summary)
}

// Delete removes one record.
func (h *Handler) Delete(c *fiber.Ctx) error {
	removed, err := h.ledger.Remove(c.UserContext(), c.Params("bank"), c.Params("address"), c.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	if !removed {
		return fiber.NewError(http.StatusNotFound, "transaction not found")
	}
	return c.SendStatus(http.StatusNoContent)
}

// DeleteAll wipes the account's history.
func (h *Handler) DeleteAll(c *fiber.Ctx) error {
	if err := h.ledger.RemoveAll(c.UserContext(), c.Params("bank"), c.Params("address")); err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.SendStatus(http.StatusNoContent)
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, raw)
}

package transfer

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/interbank/interbank_gateway/internal/workflow"
)

// Handler exposes transfer endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a transfer handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type startRequest struct {
	FromBank    string `json:"from_bank"`
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

type confirmRequest struct {
	Code string `json:"code"`
}

// Start opens a transfer and returns the one-time code challenge.
func (h *Handler) Start(c *fiber.Ctx) error {
	var req startRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	t, challenge, err := h.service.Start(c.UserContext(), StartInput{
		FromBank:    req.FromBank,
		From:        req.From,
		To:          req.To,
		AmountMinor: req.Amount,
		Description: req.Description,
	})
	if err != nil {
		return fiber.NewError(workflow.ErrorStatus(err), err.Error())
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"transfer":  t,
		"challenge": challenge,
	})
}

// Confirm submits the one-time code and runs the transfer.
func (h *Handler) Confirm(c *fiber.Ctx) error {
	var req confirmRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	outcome, err := h.service.Confirm(c.UserContext(), c.Params("id"), req.Code)
	if err != nil {
		return fiber.NewError(workflow.ErrorStatus(err), err.Error())
	}
	return c.Status(workflow.OutcomeStatus(outcome)).JSON(outcome)
}

// Get returns a transfer instance.
func (h *Handler) Get(c *fiber.Ctx) error {
	t, err := h.service.Get(c.Params("id"))
	if err != nil {
		return fiber.NewError(workflow.ErrorStatus(err), err.Error())
	}
	return c.Status(http.StatusOK).JSON(t)
}

// Recheck re-queries the receipt of a pending transfer.
func (h *Handler) Recheck(c *fiber.Ctx) error {
	outcome, err := h.service.Recheck(c.UserContext(), c.Params("bank"), c.Params("address"), c.Params("reference"))
	if err != nil {
		return fiber.NewError(workflow.ErrorStatus(err), err.Error())
	}
	return c.Status(workflow.OutcomeStatus(outcome)).JSON(outcome)
}

package withdrawal

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/interbank/interbank_gateway/internal/workflow"
)

// Handler exposes withdrawal endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a withdrawal handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type startRequest struct {
	Bank          string `json:"bank"`
	Address       string `json:"address"`
	Amount        int64  `json:"amount"`
	Method        string `json:"method"`
	BranchAddress string `json:"branch_address"`
	Description   string `json:"description"`
}

type confirmRequest struct {
	Code string `json:"code"`
}

// Start opens a withdrawal and returns the one-time code challenge.
func (h *Handler) Start(c *fiber.Ctx) error {
	var req startRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	w, challenge, err := h.service.Start(c.UserContext(), StartInput{
		Bank:          req.Bank,
		Address:       req.Address,
		AmountMinor:   req.Amount,
		Method:        Method(req.Method),
		BranchAddress: req.BranchAddress,
		Description:   req.Description,
	})
	if err != nil {
		return fiber.NewError(workflow.ErrorStatus(err), err.Error())
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"withdrawal": w,
		"challenge":  challenge,
	})
}

// Confirm submits the one-time code and runs the withdrawal.
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

// Get returns a withdrawal instance.
func (h *Handler) Get(c *fiber.Ctx) error {
	w, err := h.service.Get(c.Params("id"))
	if err != nil {
		return fiber.NewError(workflow.ErrorStatus(err), err.Error())
	}
	return c.Status(http.StatusOK).JSON(w)
}

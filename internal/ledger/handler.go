package ledger

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes ledger HTTP endpoints for both the user-facing and the
// admin surface.
type Handler struct {
	service *Service
}

// NewHandler builds a ledger HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type submitRequest struct {
	AccountID   string `json:"account_id"`
	AmountSats  int64  `json:"amount_sats"`
	Destination string `json:"destination"`
}

type adjustRequest struct {
	AmountSats int64  `json:"amount_sats"`
	Direction  string `json:"direction"`
}

type withdrawalResponse struct {
	RequestID   string  `json:"request_id"`
	AccountID   string  `json:"account_id"`
	AmountSats  int64   `json:"amount_sats"`
	Destination string  `json:"destination"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
	DecidedAt   *string `json:"decided_at,omitempty"`
}

func toWithdrawalResponse(req WithdrawalRequest) withdrawalResponse {
	resp := withdrawalResponse{
		RequestID:   req.ID,
		AccountID:   req.AccountID,
		AmountSats:  req.Amount,
		Destination: req.Destination,
		Status:      req.Status,
		CreatedAt:   req.CreatedAt.Format(time.RFC3339Nano),
	}
	if req.DecidedAt != nil {
		decided := req.DecidedAt.Format(time.RFC3339Nano)
		resp.DecidedAt = &decided
	}
	return resp
}

// httpError maps ledger sentinel errors onto HTTP statuses.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidDestination):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidState):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrBusy):
		return fiber.NewError(http.StatusConflict, "account busy, retry")
	case errors.Is(err, ErrInsufficientFunds):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrStorageUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, "storage unavailable")
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}

// Submit creates a pending withdrawal request.
func (h *Handler) Submit(c *fiber.Ctx) error {
	var req submitRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.AccountID == "" {
		return fiber.NewError(http.StatusBadRequest, "account_id is required")
	}

	created, err := h.service.SubmitWithdrawal(c.UserContext(), req.AccountID, req.AmountSats, req.Destination)
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusCreated).JSON(toWithdrawalResponse(created))
}

// Balance returns the account balance, creating the account on first touch.
func (h *Handler) Balance(c *fiber.Ctx) error {
	acct, err := h.service.Balance(c.UserContext(), c.Params("accountId"))
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"account_id":   acct.ID,
		"balance_sats": acct.Balance,
		"as_of":        acct.UpdatedAt,
	})
}

// AccountWithdrawals lists one account's withdrawal history, newest first.
func (h *Handler) AccountWithdrawals(c *fiber.Ctx) error {
	reqs, err := h.service.ListWithdrawals(c.UserContext(), c.Params("accountId"), c.Query("status") == StatusPending)
	if err != nil {
		return httpError(err)
	}
	out := make([]withdrawalResponse, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, toWithdrawalResponse(r))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"withdrawals": out})
}

// AllWithdrawals lists requests across every account for the admin view.
func (h *Handler) AllWithdrawals(c *fiber.Ctx) error {
	reqs, err := h.service.ListWithdrawals(c.UserContext(), c.Query("account_id"), c.Query("status") == StatusPending)
	if err != nil {
		return httpError(err)
	}
	out := make([]withdrawalResponse, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, toWithdrawalResponse(r))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"withdrawals": out})
}

// Approve debits the balance and marks the request approved atomically.
func (h *Handler) Approve(c *fiber.Ctx) error {
	req, acct, err := h.service.ApproveWithdrawal(c.UserContext(), c.Params("requestId"))
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"withdrawal":   toWithdrawalResponse(req),
		"balance_sats": acct.Balance,
	})
}

// Reject marks the request rejected without touching the balance.
func (h *Handler) Reject(c *fiber.Ctx) error {
	req, err := h.service.RejectWithdrawal(c.UserContext(), c.Params("requestId"))
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"withdrawal": toWithdrawalResponse(req)})
}

// Adjust applies an administrative balance correction.
func (h *Handler) Adjust(c *fiber.Ctx) error {
	var req adjustRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	acct, err := h.service.AdjustBalance(c.UserContext(), c.Params("accountId"), req.AmountSats, req.Direction)
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"account_id":   acct.ID,
		"balance_sats": acct.Balance,
		"as_of":        acct.UpdatedAt,
	})
}

// Accounts lists every account balance for the admin view.
func (h *Handler) Accounts(c *fiber.Ctx) error {
	accts, err := h.service.ListAccounts(c.UserContext())
	if err != nil {
		return httpError(err)
	}
	out := make([]fiber.Map, 0, len(accts))
	for _, acct := range accts {
		out = append(out, fiber.Map{
			"account_id":   acct.ID,
			"balance_sats": acct.Balance,
			"created_at":   acct.CreatedAt,
			"updated_at":   acct.UpdatedAt,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"accounts": out})
}

// Stats returns the admin overview counters.
func (h *Handler) Stats(c *fiber.Ctx) error {
	stats, err := h.service.Stats(c.UserContext())
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"accounts":            stats.Accounts,
		"pending_count":       stats.PendingCount,
		"pending_amount_sats": stats.PendingAmount,
	})
}

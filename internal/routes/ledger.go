package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/crypto-broker/ledger/internal/ledger"
	"github.com/crypto-broker/ledger/internal/middleware"
)

// RegisterLedgerRoutes wires the user-facing balance and withdrawal endpoints.
func RegisterLedgerRoutes(r fiber.Router, h *ledger.Handler, d Deps) {
	withdrawals := r.Group("/withdrawals")
	if d.Cache != nil {
		withdrawals.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
		withdrawals.Use(middleware.SubmitRateLimit(d.Cache, 10))
	}
	withdrawals.Post("/", h.Submit)

	r.Get("/accounts/:accountId/balance", h.Balance)
	r.Get("/accounts/:accountId/withdrawals", h.AccountWithdrawals)
}

// RegisterAdminRoutes wires the admin approval and balance management endpoints.
func RegisterAdminRoutes(r fiber.Router, h *ledger.Handler) {
	r.Get("/withdrawals", h.AllWithdrawals)
	r.Post("/withdrawals/:requestId/approve", h.Approve)
	r.Post("/withdrawals/:requestId/reject", h.Reject)
	r.Post("/accounts/:accountId/balance", h.Adjust)
	r.Get("/accounts", h.Accounts)
	r.Get("/stats", h.Stats)
}

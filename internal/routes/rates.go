package routes

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/crypto-broker/ledger/internal/rates"
)

// RegisterRatesRoute exposes the cached BTC/USD quote for the dashboards.
func RegisterRatesRoute(r fiber.Router, svc *rates.Service) {
	r.Get("/rates/btc", func(c *fiber.Ctx) error {
		quote, err := svc.BTCQuote(c.UserContext())
		if err != nil {
			return fiber.NewError(http.StatusBadGateway, "price source unavailable")
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"price_usd":  quote.PriceUSD,
			"change_24h": quote.Change24h,
			"fetched_at": quote.FetchedAt,
		})
	})
}

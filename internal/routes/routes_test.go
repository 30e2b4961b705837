package routes

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/crypto-broker/ledger/internal/config"
	"github.com/crypto-broker/ledger/internal/logging"
)

func setupApp(t *testing.T) (*fiber.App, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := config.Config{
		AppName:        "ledger-test",
		Env:            "development",
		Port:           "0",
		LogLevel:       "error",
		ShutdownPeriod: time.Second,
		IdempotencyTTL: time.Minute,
		LockWait:       time.Second,
		QuoteTTL:       time.Minute,
		DepositAddress: "bc1qmz4qffv2um3y5uhwxnt40dqs2qa6x9j6vy9m04",
	}

	app := fiber.New()
	if err := Setup(app, Deps{Cfg: cfg, DB: nil, Cache: cache, Logger: logging.Discard()}); err != nil {
		t.Fatalf("setup routes: %v", err)
	}

	cleanup := func() {
		cache.Close()
		mr.Close()
	}
	return app, cleanup
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var decoded map[string]any
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &decoded)
	}
	return resp.StatusCode, decoded
}

func TestWithdrawalApprovalFlow(t *testing.T) {
	app, cleanup := setupApp(t)
	defer cleanup()

	// Fund the account through the admin adjustment endpoint: 0.05 BTC.
	status, body := doJSON(t, app, fiber.MethodPost, "/api/v1/admin/accounts/acct-1/balance",
		`{"amount_sats":5000000,"direction":"credit"}`, nil)
	if status != http.StatusOK {
		t.Fatalf("credit: expected 200 got %d (%v)", status, body)
	}
	if body["balance_sats"].(float64) != 5000000 {
		t.Fatalf("unexpected balance after credit: %v", body)
	}

	// Submissions require an idempotency key.
	status, _ = doJSON(t, app, fiber.MethodPost, "/api/v1/withdrawals",
		`{"account_id":"acct-1","amount_sats":5000000,"destination":"bc1qdest"}`, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 without idempotency key, got %d", status)
	}

	status, body = doJSON(t, app, fiber.MethodPost, "/api/v1/withdrawals",
		`{"account_id":"acct-1","amount_sats":5000000,"destination":"bc1qdest"}`,
		map[string]string{"Idempotency-Key": "submit-1"})
	if status != http.StatusCreated {
		t.Fatalf("submit: expected 201 got %d (%v)", status, body)
	}
	requestID, _ := body["request_id"].(string)
	if requestID == "" {
		t.Fatalf("missing request_id in %v", body)
	}

	// The whole balance is pending; another submission is refused.
	status, _ = doJSON(t, app, fiber.MethodPost, "/api/v1/withdrawals",
		`{"account_id":"acct-1","amount_sats":1000000,"destination":"bc1qdest"}`,
		map[string]string{"Idempotency-Key": "submit-2"})
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for overcommit, got %d", status)
	}

	// Approve debits the balance atomically.
	status, body = doJSON(t, app, fiber.MethodPost,
		fmt.Sprintf("/api/v1/admin/withdrawals/%s/approve", requestID), "", nil)
	if status != http.StatusOK {
		t.Fatalf("approve: expected 200 got %d (%v)", status, body)
	}
	if body["balance_sats"].(float64) != 0 {
		t.Fatalf("expected balance 0 after approval, got %v", body)
	}

	// Second decision on the same request conflicts.
	status, _ = doJSON(t, app, fiber.MethodPost,
		fmt.Sprintf("/api/v1/admin/withdrawals/%s/reject", requestID), "", nil)
	if status != http.StatusConflict {
		t.Fatalf("expected 409 for decided request, got %d", status)
	}

	status, body = doJSON(t, app, fiber.MethodGet, "/api/v1/accounts/acct-1/balance", "", nil)
	if status != http.StatusOK || body["balance_sats"].(float64) != 0 {
		t.Fatalf("unexpected balance response: %d %v", status, body)
	}

	status, body = doJSON(t, app, fiber.MethodGet, "/api/v1/admin/stats", "", nil)
	if status != http.StatusOK {
		t.Fatalf("stats: expected 200 got %d", status)
	}
	if body["pending_count"].(float64) != 0 {
		t.Fatalf("expected no pending requests, got %v", body)
	}
}

func TestDepositAddressAndHealth(t *testing.T) {
	app, cleanup := setupApp(t)
	defer cleanup()

	status, body := doJSON(t, app, fiber.MethodGet, "/api/v1/deposit/address", "", nil)
	if status != http.StatusOK {
		t.Fatalf("deposit address: expected 200 got %d", status)
	}
	if body["address"] != "bc1qmz4qffv2um3y5uhwxnt40dqs2qa6x9j6vy9m04" {
		t.Fatalf("unexpected address: %v", body)
	}

	status, _ = doJSON(t, app, fiber.MethodGet, "/healthz", "", nil)
	if status != http.StatusOK {
		t.Fatalf("healthz: expected 200 got %d", status)
	}
}

func TestUnknownRequestMapsToNotFound(t *testing.T) {
	app, cleanup := setupApp(t)
	defer cleanup()

	status, _ := doJSON(t, app, fiber.MethodPost, "/api/v1/admin/withdrawals/nope/approve", "", nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
}

package middleware

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ragkasi/BreatheSafe/internal/logging"
)

func setupTestApp(t *testing.T) (*fiber.App, *int64) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		cache.Close()
		mr.Close()
	})

	var calls int64
	app := fiber.New()
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/lockers", func(c *fiber.Ctx) error {
		n := atomic.AddInt64(&calls, 1)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": n})
	})
	app.Post("/lockers/1/assign", func(c *fiber.Ctx) error {
		atomic.AddInt64(&calls, 1)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"assigned": true})
	})
	app.Post("/flaky", func(c *fiber.Ctx) error {
		n := atomic.AddInt64(&calls, 1)
		if n == 1 {
			return c.Status(fiber.StatusServiceUnavailable).SendString("down")
		}
		return c.Status(fiber.StatusOK).SendString("up")
	})
	return app, &calls
}

func post(t *testing.T, app *fiber.App, path, key string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	app, _ := setupTestApp(t)

	if status, _ := post(t, app, "/lockers", ""); status != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d", fiber.StatusBadRequest, status)
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	app, calls := setupTestApp(t)

	status, payload := post(t, app, "/lockers", "abc123")
	if status != fiber.StatusCreated {
		t.Fatalf("expected status %d got %d", fiber.StatusCreated, status)
	}

	// The second request must be served from the cache.
	status, cached := post(t, app, "/lockers", "abc123")
	if status != fiber.StatusCreated {
		t.Fatalf("expected cached status %d got %d", fiber.StatusCreated, status)
	}
	if cached != payload {
		t.Fatalf("expected cached payload %s got %s", payload, cached)
	}
	if got := atomic.LoadInt64(calls); got != 1 {
		t.Fatalf("expected handler to run once, ran %d times", got)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(cached), &decoded); err != nil {
		t.Fatalf("cached payload invalid json: %v", err)
	}
}

func TestIdempotencyKeyIsScopedToPath(t *testing.T) {
	app, calls := setupTestApp(t)

	post(t, app, "/lockers", "same-key")
	status, body := post(t, app, "/lockers/1/assign", "same-key")
	if status != fiber.StatusOK || !strings.Contains(body, "assigned") {
		t.Fatalf("expected assign handler response, got %d %s", status, body)
	}
	if got := atomic.LoadInt64(calls); got != 2 {
		t.Fatalf("expected both handlers to run, got %d calls", got)
	}
}

func TestIdempotencyDoesNotStoreServerErrors(t *testing.T) {
	app, _ := setupTestApp(t)

	if status, _ := post(t, app, "/flaky", "retry-me"); status != fiber.StatusServiceUnavailable {
		t.Fatalf("expected first attempt to fail, got %d", status)
	}
	status, body := post(t, app, "/flaky", "retry-me")
	if status != fiber.StatusOK || body != "up" {
		t.Fatalf("expected retry to reach handler, got %d %s", status, body)
	}
}

package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ragkasi/BreatheSafe/internal/config"
	"github.com/ragkasi/BreatheSafe/internal/identity"
	"github.com/ragkasi/BreatheSafe/internal/locker"
	"github.com/ragkasi/BreatheSafe/internal/middleware"
	"github.com/ragkasi/BreatheSafe/internal/sms"
)

// RegisterUserRoutes wires the direct user endpoints.
func RegisterUserRoutes(r fiber.Router, h *identity.Handler) {
	r.Post("/register", h.Register)
	r.Get("/:id", h.Get)
}

// RegisterLockerRoutes wires the direct locker endpoints.
func RegisterLockerRoutes(r fiber.Router, h *locker.Handler) {
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/:lockerId", h.Get)
	r.Post("/:lockerId/assign", h.Assign)
	r.Post("/:lockerId/unlock", h.Unlock)
}

// RegisterSMSRoutes wires the inbound SMS webhook. Requests must be signed
// when a public webhook URL and auth token are configured.
func RegisterSMSRoutes(app *fiber.App, h *sms.Handler, tw config.Twilio) {
	handlers := []fiber.Handler{}
	if tw.VerifySignatures() {
		handlers = append(handlers, middleware.TwilioSignature(tw.AuthToken, tw.WebhookURL))
	}
	handlers = append(handlers, h.Webhook)
	app.Post("/api/sms-webhook", handlers...)
}

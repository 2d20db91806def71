package sms

import (
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/ragkasi/BreatheSafe/internal/binding"
	"github.com/ragkasi/BreatheSafe/internal/senderlock"
)

// Handler receives inbound texts from the SMS provider webhook.
type Handler struct {
	engine *Engine
	locks  senderlock.Locker
	logger *slog.Logger
}

// NewHandler builds the webhook handler.
func NewHandler(engine *Engine, locks senderlock.Locker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: engine, locks: locks, logger: logger}
}

type webhookForm struct {
	From string `form:"From" validate:"required"`
	Body string `form:"Body"`
}

// Webhook handles one inbound message and answers with TwiML.
func (h *Handler) Webhook(c *fiber.Ctx) error {
	var form webhookForm
	if err := binding.Body(c, &form); err != nil {
		return err
	}

	ctx := c.UserContext()
	release, err := h.locks.Acquire(ctx, form.From)
	if err != nil {
		// Store-level record locks still apply without the lease.
		h.logger.Warn("sender lock unavailable", "from", form.From, "error", err)
	} else {
		defer release()
	}

	reply := h.engine.Handle(ctx, Inbound{From: form.From, Body: form.Body})

	c.Set(fiber.HeaderContentType, fiber.MIMETextXMLCharsetUTF8)
	return c.Status(http.StatusOK).Send(TwiML(reply))
}

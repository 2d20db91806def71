package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

// Twilio error codes for recipients that cannot receive messages.
var unreachableCodes = map[int]bool{
	21211: true, // invalid 'To' number
	21610: true, // unsubscribed recipient
	21612: true, // unreachable via this sender
	21614: true, // not a mobile number
	30003: true, // unreachable destination handset
	30005: true, // unknown destination handset
	30006: true, // landline or unreachable carrier
}

// TwilioConfig holds credentials for the Twilio Messages API.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string
	Timeout    time.Duration
}

// TwilioSender delivers messages through Twilio's REST API.
type TwilioSender struct {
	cfg TwilioConfig
}

// NewTwilioSender validates cfg and returns a sender.
func NewTwilioSender(cfg TwilioConfig) (*TwilioSender, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.FromNumber == "" {
		return nil, fmt.Errorf("twilio account sid, auth token and from number are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTwilioBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &TwilioSender{cfg: cfg}, nil
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// Send posts the message to Twilio. Provider rejections for unreachable
// recipients are returned as ErrRecipientUnreachable.
func (s *TwilioSender) Send(ctx context.Context, message Message) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.cfg.BaseURL, s.cfg.AccountSID)

	timeout := s.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}

	args := fiber.AcquireArgs()
	defer fiber.ReleaseArgs(args)
	args.Set("To", message.Destination)
	args.Set("From", s.cfg.FromNumber)
	args.Set("Body", message.Body)

	agent := fiber.Post(endpoint).
		BasicAuth(s.cfg.AccountSID, s.cfg.AuthToken).
		Form(args).
		Timeout(timeout)
	if err := agent.Parse(); err != nil {
		return fmt.Errorf("twilio request: %w", err)
	}

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("twilio send: %w", errs[0])
	}
	if code >= 200 && code < 300 {
		return nil
	}

	var apiErr twilioError
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return fmt.Errorf("twilio send: status %d", code)
	}
	if unreachableCodes[apiErr.Code] || strings.Contains(strings.ToLower(apiErr.Message), "unsubscribed") {
		return fmt.Errorf("%w: %s (code %d)", ErrRecipientUnreachable, apiErr.Message, apiErr.Code)
	}
	if code == http.StatusTooManyRequests {
		return fmt.Errorf("twilio send: rate limited: %s", apiErr.Message)
	}
	return fmt.Errorf("twilio send: status %d code %d: %s", code, apiErr.Code, apiErr.Message)
}

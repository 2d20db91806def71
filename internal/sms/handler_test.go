package sms

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/ragkasi/BreatheSafe/internal/binding"
	"github.com/ragkasi/BreatheSafe/internal/logging"
	"github.com/ragkasi/BreatheSafe/internal/senderlock"
)

func newWebhookApp(t *testing.T, f *fixture) *fiber.App {
	t.Helper()
	app := fiber.New(fiber.Config{ErrorHandler: binding.ErrorHandler})
	h := NewHandler(f.engine, senderlock.NewLocalLocker(), logging.Discard())
	app.Post("/api/sms-webhook", h.Webhook)
	return app
}

func postForm(t *testing.T, app *fiber.App, form url.Values) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/sms-webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(body)
}

func TestWebhookRepliesWithTwiML(t *testing.T) {
	f := newFixture(t, 1)
	app := newWebhookApp(t, f)

	resp, body := postForm(t, app, url.Values{"From": {phone}, "Body": {"START"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Fatalf("expected xml content type, got %q", ct)
	}
	want := string(TwiML(replyAskName))
	if body != want {
		t.Fatalf("expected %q, got %q", want, body)
	}
	if _, ok := f.user(t); !ok {
		t.Fatalf("expected placeholder user to be created")
	}
}

func TestWebhookRequiresSender(t *testing.T) {
	f := newFixture(t, 1)
	app := newWebhookApp(t, f)

	resp, body := postForm(t, app, url.Values{"Body": {"START"}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", resp.StatusCode, body)
	}
	if len(f.sender.sent) != 0 {
		t.Fatalf("expected nothing sent for rejected request")
	}
}

func TestWebhookFullConversation(t *testing.T) {
	f := newFixture(t, 1)
	app := newWebhookApp(t, f)

	steps := []struct {
		body string
		want string
	}{
		{"START", replyAskName},
		{"Alan Turing", replyRegistered("Alan Turing", 1)},
		{"LOCK 9876", replyLocked(1)},
		{"UNLOCK 9876", replyUnlocked(1)},
		{"RELEASE 1", replyReleased(1)},
	}
	for _, step := range steps {
		_, body := postForm(t, app, url.Values{"From": {phone}, "Body": {step.body}})
		if want := string(TwiML(step.want)); body != want {
			t.Fatalf("body %q: expected %q, got %q", step.body, want, body)
		}
	}
}

func TestTwiMLEscapesText(t *testing.T) {
	got := string(TwiML(`Tom & "Jerry" <3`))
	want := `<?xml version="1.0" encoding="UTF-8"?><Response><Message>Tom &amp; &#34;Jerry&#34; &lt;3</Message></Response>`
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

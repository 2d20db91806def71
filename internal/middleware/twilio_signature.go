package middleware

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const twilioSignatureHeader = "X-Twilio-Signature"

// TwilioSignature rejects webhook calls whose X-Twilio-Signature does not match
// the HMAC-SHA1 of publicURL followed by the sorted form parameters, keyed by
// the account auth token.
func TwilioSignature(authToken, publicURL string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		got := c.Get(twilioSignatureHeader)
		if got == "" {
			return fiber.NewError(http.StatusForbidden, "missing request signature")
		}

		params := map[string][]string{}
		c.Request().PostArgs().VisitAll(func(k, v []byte) {
			params[string(k)] = append(params[string(k)], string(v))
		})
		want := TwilioSignatureFor(authToken, publicURL, params)
		if !hmac.Equal([]byte(got), []byte(want)) {
			return fiber.NewError(http.StatusForbidden, "invalid request signature")
		}
		return c.Next()
	}
}

// TwilioSignatureFor computes the signature Twilio sends for a POST to url
// carrying params.
func TwilioSignatureFor(authToken, url string, params map[string][]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(url)
	for _, k := range keys {
		values := append([]string(nil), params[k]...)
		sort.Strings(values)
		for _, v := range values {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

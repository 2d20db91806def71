package sms

import (
	"bytes"
	"encoding/xml"
)

const twimlHeader = `<?xml version="1.0" encoding="UTF-8"?>`

// TwiML wraps reply in a messaging response envelope, escaping XML
// metacharacters in the text.
func TwiML(reply string) []byte {
	var buf bytes.Buffer
	buf.WriteString(twimlHeader)
	buf.WriteString("<Response><Message>")
	// EscapeText only fails when the writer does; bytes.Buffer never does.
	_ = xml.EscapeText(&buf, []byte(reply))
	buf.WriteString("</Message></Response>")
	return buf.Bytes()
}

package provider

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

const mimeLineLength = 76

// Message is a single-part HTML email.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
	Date    time.Time
}

// BuildMIME renders msg as an RFC 5322 message with a base64 HTML body.
// An empty From is left out so the provider fills in the authenticated sender.
func BuildMIME(msg Message) ([]byte, error) {
	to, err := mail.ParseAddress(strings.TrimSpace(msg.To))
	if err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}

	date := msg.Date
	if date.IsZero() {
		date = time.Now()
	}

	var buf bytes.Buffer
	if from := strings.TrimSpace(msg.From); from != "" {
		parsed, err := mail.ParseAddress(from)
		if err != nil {
			return nil, fmt.Errorf("invalid sender %q: %w", msg.From, err)
		}
		writeHeader(&buf, "From", parsed.String())
	}
	writeHeader(&buf, "To", to.String())
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	writeHeader(&buf, "Date", date.Format(time.RFC1123Z))
	writeHeader(&buf, "Message-ID", fmt.Sprintf("<%s@investor-mailer>", uuid.NewString()))
	writeHeader(&buf, "MIME-Version", "1.0")
	writeHeader(&buf, "Content-Type", `text/html; charset="utf-8"`)
	writeHeader(&buf, "Content-Transfer-Encoding", "base64")
	buf.WriteString("\r\n")

	encoded := base64.StdEncoding.EncodeToString([]byte(msg.HTML))
	for len(encoded) > mimeLineLength {
		buf.WriteString(encoded[:mimeLineLength])
		buf.WriteString("\r\n")
		encoded = encoded[mimeLineLength:]
	}
	if encoded != "" {
		buf.WriteString(encoded)
		buf.WriteString("\r\n")
	}

	return buf.Bytes(), nil
}

func writeHeader(buf *bytes.Buffer, key string, value string) {
	buf.WriteString(key)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

// Package relay turns a normalized inbound message into the email model
// delivered by providers.
package relay

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/shineum/inbound-parse-relay/internal/email"
	"github.com/shineum/inbound-parse-relay/internal/inbound"
	"github.com/shineum/inbound-parse-relay/internal/parser"
)

// Pass-through webhook fields read by the builder.
const (
	fieldFrom     = "from"
	fieldSubject  = "subject"
	fieldText     = "text"
	fieldHTML     = "html"
	fieldHeaders  = "headers"
	fieldRawEmail = "email"
)

// messageIDDomain is the right-hand side of generated Message-IDs.
const messageIDDomain = "inbound-parse-relay"

// Builder converts normalized messages into deliverable emails.
type Builder struct {
	forwardTo []string
	newID     func() string
}

// NewBuilder returns a Builder. When forwardTo is non-empty every message is
// re-addressed to it and the original recipients move to X-Original-To,
// X-Original-Cc and X-Original-Bcc headers.
func NewBuilder(forwardTo []string) *Builder {
	return &Builder{
		forwardTo: forwardTo,
		newID:     func() string { return uuid.New().String() },
	}
}

// Build maps msg onto an email.Email. Unparseable headers or raw MIME are
// logged and skipped; the form fields alone still produce a message.
func (b *Builder) Build(msg *inbound.Message) *email.Email {
	e := &email.Email{
		ID:          b.newID(),
		From:        msg.Text(fieldFrom),
		To:          msg.To,
		Cc:          msg.Cc,
		Bcc:         msg.Bcc,
		Subject:     msg.Text(fieldSubject),
		TextBody:    msg.Text(fieldText),
		HtmlBody:    msg.Text(fieldHTML),
		Attachments: attachments(msg.Attachments),
		RawHeaders:  map[string][]string{},
	}
	if r := msg.SpamReport.Score; r != nil {
		e.SpamScore = *r
	}
	if r := msg.SpamReport.Report; r != nil {
		e.SpamReport = *r
	}

	if raw := msg.Text(fieldHeaders); raw != "" {
		headers, err := parser.ParseHeaders(raw)
		if err != nil {
			slog.Warn("failed to parse headers field", "id", e.ID, "error", err)
		} else {
			e.RawHeaders = withoutOriginal(headers)
		}
	}

	if raw := msg.Text(fieldRawEmail); raw != "" {
		b.mergeRaw(e, raw)
	}

	if e.Subject == "" {
		e.Subject = parser.DecodeHeader(firstHeader(e.RawHeaders, "Subject"))
	}
	if e.MessageID == "" {
		e.MessageID = firstHeader(e.RawHeaders, "Message-Id")
	}
	if e.MessageID == "" {
		e.MessageID = fmt.Sprintf("<%s@%s>", e.ID, messageIDDomain)
	}
	if e.From == "" {
		e.From = parser.DecodeHeader(firstHeader(e.RawHeaders, "From"))
	}

	if len(b.forwardTo) > 0 {
		b.forward(e)
	}
	return e
}

// mergeRaw fills fields the form left empty from a raw MIME message posted
// in the email field.
func (b *Builder) mergeRaw(e *email.Email, raw string) {
	parsed, err := parser.Parse([]byte(raw))
	if err != nil {
		slog.Warn("failed to parse raw email field", "id", e.ID, "error", err)
		return
	}

	if e.TextBody == "" {
		e.TextBody = parsed.TextBody
	}
	if e.HtmlBody == "" {
		e.HtmlBody = parsed.HtmlBody
	}
	if len(e.Attachments) == 0 {
		e.Attachments = parsed.Attachments
	}
	if e.Subject == "" {
		e.Subject = parsed.Subject
	}
	if e.From == "" {
		e.From = parsed.From
	}
	if e.MessageID == "" {
		e.MessageID = parsed.MessageID
	}
	if len(e.RawHeaders) == 0 {
		e.RawHeaders = withoutOriginal(parsed.RawHeaders)
	}
}

// forward replaces the recipients with the configured forward addresses.
func (b *Builder) forward(e *email.Email) {
	for key, list := range map[string][]string{"To": e.To, "Cc": e.Cc, "Bcc": e.Bcc} {
		if len(list) > 0 {
			e.RawHeaders[email.OriginalHeaderPrefix+key] = list
		}
	}
	e.To = append([]string(nil), b.forwardTo...)
	e.Cc = nil
	e.Bcc = nil
}

func attachments(in []inbound.Attachment) []email.Attachment {
	out := make([]email.Attachment, 0, len(in))
	for _, a := range in {
		out = append(out, email.Attachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Content:     a.Content,
		})
	}
	return out
}

// withoutOriginal drops X-Original-* headers; that prefix is reserved for
// the relay's own forwarding headers.
func withoutOriginal(h map[string][]string) map[string][]string {
	out := make(map[string][]string, len(h))
	for k, v := range h {
		if strings.HasPrefix(k, email.OriginalHeaderPrefix) {
			continue
		}
		out[k] = v
	}
	return out
}

func firstHeader(h map[string][]string, key string) string {
	if v := h[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Package email defines the message model handed to delivery providers.
package email

import (
	"sort"
	"strings"
)

// Email is a relayed message, built from a normalized inbound webhook.
// Address lists hold formatted addresses ("Name <addr>" or "addr").
type Email struct {
	// ID identifies the relay of one webhook request.
	ID string

	From        string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	TextBody    string
	HtmlBody    string
	Attachments []Attachment
	RawHeaders  map[string][]string
	MessageID   string

	// SpamScore and SpamReport are copied from the provider's verdict.
	SpamScore  string
	SpamReport string
}

// Recipients returns To, Cc and Bcc concatenated.
func (e *Email) Recipients() []string {
	out := make([]string, 0, len(e.To)+len(e.Cc)+len(e.Bcc))
	out = append(out, e.To...)
	out = append(out, e.Cc...)
	return append(out, e.Bcc...)
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// OriginalHeaderPrefix marks headers the relay adds to carry the webhook's
// original recipients when delivery is re-addressed.
const OriginalHeaderPrefix = "X-Original-"

// OriginalHeaderKeys returns the keys of RawHeaders that start with
// OriginalHeaderPrefix, sorted.
func (e *Email) OriginalHeaderKeys() []string {
	var keys []string
	for k := range e.RawHeaders {
		if strings.HasPrefix(k, OriginalHeaderPrefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

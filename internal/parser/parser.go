// Package parser reads the MIME material an inbound webhook may carry: the
// full message posted in raw mode and the header block posted in parsed
// mode.
package parser

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/textproto"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	msgtextproto "github.com/emersion/go-message/textproto"
	"github.com/gabriel-vasile/mimetype"

	"github.com/shineum/inbound-parse-relay/internal/email"
)

// Parse parses a raw RFC 5322 message into an Email. Text parts are decoded
// to UTF-8. Parts in an unknown charset are kept as-is and logged.
func Parse(raw []byte) (*email.Email, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	defer mr.Close()

	result := &email.Email{
		RawHeaders: headerMap(mr.Header.Header.Header),
		From:       mr.Header.Get("From"),
		MessageID:  mr.Header.Get("Message-Id"),
	}
	if subject, err := mr.Header.Subject(); err == nil {
		result.Subject = subject
	} else {
		result.Subject = mr.Header.Get("Subject")
	}
	result.To = addressList(mr.Header, "To")
	result.Cc = addressList(mr.Header, "Cc")

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, fmt.Errorf("failed to read next part: %w", err)
		}
		if err != nil {
			slog.Warn("unknown charset in MIME part, keeping raw bytes", "error", err)
		}

		content, err := io.ReadAll(part.Body)
		if err != nil {
			slog.Warn("failed to read part content", "error", err)
			continue
		}

		switch h := part.Header.(type) {
		case *mail.AttachmentHeader:
			result.Attachments = append(result.Attachments, attachment(h, content))
		case *mail.InlineHeader:
			mediaType, _, _ := h.ContentType()
			switch mediaType {
			case "", "text/plain":
				if result.TextBody == "" {
					result.TextBody = string(content)
				}
			case "text/html":
				if result.HtmlBody == "" {
					result.HtmlBody = string(content)
				}
			default:
				// Inline images and the like are still files.
				result.Attachments = append(result.Attachments, inlineAttachment(h, mediaType, content))
			}
		}
	}

	return result, nil
}

// ParseHeaders parses a raw header block, as posted in the webhook's
// headers field, into canonical header keys.
func ParseHeaders(raw string) (map[string][]string, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string][]string{}, nil
	}

	block := strings.TrimRight(raw, "\r\n") + "\r\n\r\n"
	h, err := msgtextproto.ReadHeader(bufio.NewReader(strings.NewReader(block)))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse header block: %w", err)
	}
	return headerMap(h), nil
}

func headerMap(h msgtextproto.Header) map[string][]string {
	out := make(map[string][]string, h.Len())
	fields := h.Fields()
	for fields.Next() {
		key := textproto.CanonicalMIMEHeaderKey(fields.Key())
		out[key] = append(out[key], fields.Value())
	}
	return out
}

// addressList returns the bare addresses of a header. Unparseable lists
// yield nothing.
func addressList(h mail.Header, key string) []string {
	addrs, err := h.AddressList(key)
	if err != nil {
		slog.Debug("failed to parse address header", "header", key, "error", err)
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Address)
	}
	return out
}

func attachment(h *mail.AttachmentHeader, content []byte) email.Attachment {
	mediaType, _, _ := h.ContentType()
	filename, _ := h.Filename()
	return email.Attachment{
		Filename:    fallbackFilename(filename, mediaType),
		ContentType: contentType(mediaType, content),
		Content:     content,
	}
}

func inlineAttachment(h *mail.InlineHeader, mediaType string, content []byte) email.Attachment {
	_, params, _ := h.ContentType()
	return email.Attachment{
		Filename:    fallbackFilename(params["name"], mediaType),
		ContentType: contentType(mediaType, content),
		Content:     content,
	}
}

// contentType returns mediaType, or the sniffed type of content when the
// part did not declare one.
func contentType(mediaType string, content []byte) string {
	if mediaType != "" {
		return mediaType
	}
	return mimetype.Detect(content).String()
}

// fallbackFilename generates a name from the media type for parts that
// carry none, since delivery APIs require one.
func fallbackFilename(filename, mediaType string) string {
	if filename != "" {
		return filename
	}
	if _, sub, ok := strings.Cut(mediaType, "/"); ok && sub != "" {
		return "attachment." + sub
	}
	return "attachment"
}

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// DecodeHeader decodes RFC 2047 encoded words in a header value. Values
// that fail to decode are returned unchanged.
func DecodeHeader(v string) string {
	decoded, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return decoded
}

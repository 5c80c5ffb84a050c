// Package ses implements a Provider that relays messages via AWS SES v2.
package ses

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/shineum/inbound-parse-relay/internal/email"
	"github.com/shineum/inbound-parse-relay/internal/provider"
)

// permanentErrorCodes are SES error codes that a retry cannot fix.
var permanentErrorCodes = map[string]bool{
	"AccountSuspendedException":          true,
	"BadRequestException":                true,
	"MailFromDomainNotVerifiedException": true,
	"MessageRejected":                    true,
	"NotFoundException":                  true,
	"SendingPausedException":             true,
}

// SESProviderConfig holds the configuration for creating a SESProvider.
type SESProviderConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Sender          string
}

// SESProvider relays messages via the AWS SES v2 API. Messages are sent
// from the verified sender; the inbound From becomes the Reply-To.
type SESProvider struct {
	sender     string
	client     SendEmailAPI
	retryDelay time.Duration
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a new SESProvider with the given configuration.
func New(ctx context.Context, cfg SESProviderConfig) (*SESProvider, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sesv2.NewFromConfig(awsCfg)

	return &SESProvider{
		sender:     cfg.Sender,
		client:     client,
		retryDelay: provider.BaseRetryDelay,
	}, nil
}

// NewWithClient creates a SESProvider with a custom client, used for testing.
func NewWithClient(sender string, client SendEmailAPI) *SESProvider {
	return &SESProvider{
		sender:     sender,
		client:     client,
		retryDelay: provider.BaseRetryDelay,
	}
}

// Send delivers msg via AWS SES v2. Messages with attachments are sent as
// raw MIME, everything else uses the simple content format.
func (s *SESProvider) Send(ctx context.Context, msg *email.Email) error {
	var input *sesv2.SendEmailInput

	if len(msg.Attachments) > 0 {
		raw, err := buildRawMessage(s.sender, msg)
		if err != nil {
			return fmt.Errorf("failed to build raw message: %w", err)
		}
		input = &sesv2.SendEmailInput{
			FromEmailAddress: aws.String(s.sender),
			Destination:      destination(msg),
			Content: &types.EmailContent{
				Raw: &types.RawMessage{
					Data: raw,
				},
			},
		}
	} else {
		input = buildSimpleInput(s.sender, msg)
	}

	var lastErr error
	for attempt := 0; attempt <= provider.MaxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying SES API request",
				"id", msg.ID,
				"attempt", attempt,
				"max_retries", provider.MaxRetries,
			)
			delay := provider.Backoff(s.retryDelay, attempt)
			if err := provider.Wait(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		}

		out, err := s.client.SendEmail(ctx, input)
		if err == nil {
			var messageID string
			if out != nil {
				messageID = aws.ToString(out.MessageId)
			}
			slog.Info("message relayed via SES",
				"id", msg.ID,
				"ses_message_id", messageID,
				"recipients", len(msg.Recipients()),
			)
			return nil
		}

		if code, ok := permanentCode(err); ok {
			slog.Warn("SES rejected message",
				"id", msg.ID,
				"code", code,
				"error", err,
			)
			return fmt.Errorf("SES rejected message: %w", err)
		}

		lastErr = err
		slog.Warn("SES API error",
			"id", msg.ID,
			"attempt", attempt,
			"error", err,
		)
	}

	return fmt.Errorf("SES API request failed after %d retries: %w", provider.MaxRetries, lastErr)
}

// permanentCode returns the SES error code of err when it is one that
// retrying cannot fix.
func permanentCode(err error) (string, bool) {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return "", false
	}
	code := apiErr.ErrorCode()
	return code, permanentErrorCodes[code]
}

// Name returns the provider name.
func (s *SESProvider) Name() string {
	return "ses"
}

// destination returns the SES recipients of msg. Bcc recipients only appear
// here, never in message headers.
func destination(msg *email.Email) *types.Destination {
	return &types.Destination{
		ToAddresses:  msg.To,
		CcAddresses:  msg.Cc,
		BccAddresses: msg.Bcc,
	}
}

// replyTo returns the inbound sender as the Reply-To list.
func replyTo(msg *email.Email) []string {
	if msg.From == "" {
		return nil
	}
	return []string{msg.From}
}

// buildSimpleInput creates a SES SendEmailInput for emails without attachments.
func buildSimpleInput(sender string, msg *email.Email) *sesv2.SendEmailInput {
	body := &types.Body{}

	if msg.HtmlBody != "" {
		body.Html = &types.Content{
			Data:    aws.String(msg.HtmlBody),
			Charset: aws.String("UTF-8"),
		}
	}
	if msg.TextBody != "" {
		body.Text = &types.Content{
			Data:    aws.String(msg.TextBody),
			Charset: aws.String("UTF-8"),
		}
	}

	var headers []types.MessageHeader
	for _, key := range msg.OriginalHeaderKeys() {
		headers = append(headers, types.MessageHeader{
			Name:  aws.String(key),
			Value: aws.String(strings.Join(msg.RawHeaders[key], ", ")),
		})
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(sender),
		Destination:      destination(msg),
		ReplyToAddresses: replyTo(msg),
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(msg.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body:    body,
				Headers: headers,
			},
		},
	}
}

// buildRawMessage constructs a raw MIME message for emails with attachments.
func buildRawMessage(sender string, msg *email.Email) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s\r\n", sender)
	if len(msg.To) > 0 {
		fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(msg.To, ", "))
	}
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&buf, "Cc: %s\r\n", strings.Join(msg.Cc, ", "))
	}
	if msg.From != "" {
		fmt.Fprintf(&buf, "Reply-To: %s\r\n", msg.From)
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", msg.Subject))
	if msg.MessageID != "" {
		fmt.Fprintf(&buf, "Message-ID: %s\r\n", msg.MessageID)
	}
	for _, key := range msg.OriginalHeaderKeys() {
		fmt.Fprintf(&buf, "%s: %s\r\n", key, strings.Join(msg.RawHeaders[key], ", "))
	}
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")

	writer := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", writer.Boundary())

	if err := writeBody(writer, msg); err != nil {
		return nil, err
	}

	for _, att := range msg.Attachments {
		attHeader := make(textproto.MIMEHeader)
		attHeader.Set("Content-Type", att.ContentType)
		attHeader.Set("Content-Transfer-Encoding", "base64")
		attHeader.Set("Content-Disposition",
			mime.FormatMediaType("attachment", map[string]string{"filename": att.Filename}))

		part, err := writer.CreatePart(attHeader)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment part: %w", err)
		}
		if _, err := part.Write([]byte(encodeBase64WithLineBreaks(att.Content))); err != nil {
			return nil, fmt.Errorf("failed to write attachment part: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return buf.Bytes(), nil
}

// writeBody writes the message bodies into w. When both a text and an HTML
// body are present they are nested in a multipart/alternative part.
func writeBody(w *multipart.Writer, msg *email.Email) error {
	switch {
	case msg.TextBody != "" && msg.HtmlBody != "":
		var inner bytes.Buffer
		alt := multipart.NewWriter(&inner)
		if err := writeTextPart(alt, "text/plain", msg.TextBody); err != nil {
			return err
		}
		if err := writeTextPart(alt, "text/html", msg.HtmlBody); err != nil {
			return err
		}
		if err := alt.Close(); err != nil {
			return fmt.Errorf("failed to close alternative part: %w", err)
		}

		h := make(textproto.MIMEHeader)
		h.Set("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", alt.Boundary()))
		part, err := w.CreatePart(h)
		if err != nil {
			return fmt.Errorf("failed to create body part: %w", err)
		}
		if _, err := part.Write(inner.Bytes()); err != nil {
			return fmt.Errorf("failed to write body part: %w", err)
		}
		return nil
	case msg.HtmlBody != "":
		return writeTextPart(w, "text/html", msg.HtmlBody)
	case msg.TextBody != "":
		return writeTextPart(w, "text/plain", msg.TextBody)
	}
	return nil
}

func writeTextPart(w *multipart.Writer, mediaType, body string) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Type", mediaType+"; charset=UTF-8")
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create body part: %w", err)
	}
	if _, err := part.Write([]byte(body)); err != nil {
		return fmt.Errorf("failed to write body part: %w", err)
	}
	return nil
}

// encodeBase64WithLineBreaks encodes bytes to base64 with 76-character line breaks per RFC 2045.
func encodeBase64WithLineBreaks(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	var lines []string
	for i := 0; i < len(encoded); i += 76 {
		end := i + 76
		if end > len(encoded) {
			end = len(encoded)
		}
		lines = append(lines, encoded[i:end])
	}
	return strings.Join(lines, "\r\n")
}

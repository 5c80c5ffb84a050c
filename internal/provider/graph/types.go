// Package graph implements a Provider that relays messages via the
// Microsoft Graph sendMail API.
package graph

import (
	"encoding/base64"
	"log/slog"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/shineum/inbound-parse-relay/internal/email"
)

// sendMailRequest is the request body for the sendMail endpoint.
type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

type sendMailMessage struct {
	Subject                string            `json:"subject"`
	Body                   messageBody       `json:"body"`
	ToRecipients           []recipient       `json:"toRecipients"`
	CcRecipients           []recipient       `json:"ccRecipients,omitempty"`
	BccRecipients          []recipient       `json:"bccRecipients,omitempty"`
	ReplyTo                []recipient       `json:"replyTo,omitempty"`
	InternetMessageHeaders []messageHeader   `json:"internetMessageHeaders,omitempty"`
	Attachments            []graphAttachment `json:"attachments,omitempty"`
}

type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// messageHeader is a custom header. Graph only accepts names starting
// with "X-".
type messageHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

// tokenResponse is the OAuth2 token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

type graphErrorResponse struct {
	Error graphError `json:"error"`
}

type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// buildSendMailRequest converts msg into a sendMail request body. Graph
// carries a single body, so the HTML body wins over the text body.
func buildSendMailRequest(msg *email.Email) *sendMailRequest {
	body := messageBody{
		ContentType: "text",
		Content:     msg.TextBody,
	}
	if msg.HtmlBody != "" {
		body.ContentType = "html"
		body.Content = msg.HtmlBody
	}

	var replyTo []recipient
	if msg.From != "" {
		replyTo = recipients([]string{msg.From})
	}

	var headers []messageHeader
	for _, key := range msg.OriginalHeaderKeys() {
		headers = append(headers, messageHeader{
			Name:  key,
			Value: strings.Join(msg.RawHeaders[key], ", "),
		})
	}

	attachments := make([]graphAttachment, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		attachments = append(attachments, graphAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         att.Filename,
			ContentType:  att.ContentType,
			ContentBytes: base64.StdEncoding.EncodeToString(att.Content),
		})
	}

	return &sendMailRequest{
		Message: sendMailMessage{
			Subject:                msg.Subject,
			Body:                   body,
			ToRecipients:           recipients(msg.To),
			CcRecipients:           recipients(msg.Cc),
			BccRecipients:          recipients(msg.Bcc),
			ReplyTo:                replyTo,
			InternetMessageHeaders: headers,
			Attachments:            attachments,
		},
	}
}

// recipients splits formatted addresses into Graph's name and address
// pair. Entries that do not parse are passed through as bare addresses.
func recipients(addrs []string) []recipient {
	out := make([]recipient, 0, len(addrs))
	for _, raw := range addrs {
		addr, err := mail.ParseAddress(raw)
		if err != nil {
			slog.Debug("passing unparseable recipient through", "address", raw, "error", err)
			out = append(out, recipient{EmailAddress: emailAddress{Address: raw}})
			continue
		}
		out = append(out, recipient{EmailAddress: emailAddress{Name: addr.Name, Address: addr.Address}})
	}
	return out
}

package relay

import (
	"strings"
	"testing"

	"github.com/shineum/inbound-parse-relay/internal/inbound"
)

func newTestBuilder(forwardTo ...string) *Builder {
	b := NewBuilder(forwardTo)
	b.newID = func() string { return "test-id" }
	return b
}

func webhook(fields ...string) *inbound.Message {
	p := inbound.NewParams()
	for i := 0; i+1 < len(fields); i += 2 {
		p.SetText(fields[i], fields[i+1])
	}
	return inbound.Normalize(p)
}

func TestBuildFormFields(t *testing.T) {
	t.Parallel()

	msg := webhook(
		"from", "Joe User <joe@example.com>",
		"to", `"Mr Fugushima at Fugu, Inc" <hi@example.com>, Foo bar <foo@example.com>`,
		"cc", "cc@example.com",
		"envelope", `{"to":["hi@example.com","bcc@example.com"],"from":"joe@example.com"}`,
		"subject", "Re: the thing",
		"text", "hi",
		"html", "<b>hi</b>",
		"spam_score", "1.234",
		"spam_report", "Spam detection software...",
	)

	e := newTestBuilder().Build(msg)

	if e.ID != "test-id" {
		t.Errorf("ID: got %q", e.ID)
	}
	if e.From != "Joe User <joe@example.com>" {
		t.Errorf("From: got %q", e.From)
	}
	if len(e.To) != 2 || e.To[0] != `"Mr Fugushima at Fugu, Inc" <hi@example.com>` {
		t.Errorf("To: got %v", e.To)
	}
	if len(e.Cc) != 1 || e.Cc[0] != "cc@example.com" {
		t.Errorf("Cc: got %v", e.Cc)
	}
	if len(e.Bcc) != 1 || e.Bcc[0] != "bcc@example.com" {
		t.Errorf("Bcc: got %v", e.Bcc)
	}
	if e.Subject != "Re: the thing" || e.TextBody != "hi" || e.HtmlBody != "<b>hi</b>" {
		t.Errorf("content: got subject=%q text=%q html=%q", e.Subject, e.TextBody, e.HtmlBody)
	}
	if e.SpamScore != "1.234" || e.SpamReport != "Spam detection software..." {
		t.Errorf("spam: got score=%q report=%q", e.SpamScore, e.SpamReport)
	}
	if e.MessageID != "<test-id@inbound-parse-relay>" {
		t.Errorf("MessageID: got %q", e.MessageID)
	}
}

func TestBuildAttachments(t *testing.T) {
	t.Parallel()

	p := inbound.NewParams()
	p.SetText("to", "hi@example.com")
	p.SetText("attachments", "1")
	p.SetText("attachment-info", `{"attachment1":{"filename":"photo.jpg","type":"image/jpeg"}}`)
	p.Set("attachment1", inbound.FileValue(&inbound.Upload{
		Filename:    "upload.bin",
		ContentType: "image/jpeg",
		Content:     []byte("jpeg"),
	}))

	e := newTestBuilder().Build(inbound.Normalize(p))

	if len(e.Attachments) != 1 {
		t.Fatalf("Attachments: got %d, want 1", len(e.Attachments))
	}
	att := e.Attachments[0]
	if att.Filename != "photo.jpg" || att.ContentType != "image/jpeg" || string(att.Content) != "jpeg" {
		t.Errorf("attachment: got %+v", att)
	}
}

func TestBuildHeadersField(t *testing.T) {
	t.Parallel()

	headers := strings.Join([]string{
		"Received: by mx.example.com",
		"Message-ID: <orig@example.com>",
		"Subject: =?UTF-8?B?w4Rwcmlj?=",
		"X-Original-To: spoofed@example.com",
	}, "\n")
	msg := webhook("to", "hi@example.com", "headers", headers)

	e := newTestBuilder().Build(msg)

	if e.MessageID != "<orig@example.com>" {
		t.Errorf("MessageID: got %q", e.MessageID)
	}
	if e.Subject != "Äpric" {
		t.Errorf("Subject: got %q, want %q", e.Subject, "Äpric")
	}
	if _, ok := e.RawHeaders["Received"]; !ok {
		t.Error("RawHeaders missing Received")
	}
	if _, ok := e.RawHeaders["X-Original-To"]; ok {
		t.Error("inbound X-Original-To should be dropped")
	}
}

func TestBuildRawEmail(t *testing.T) {
	t.Parallel()

	raw := strings.Join([]string{
		"From: Raw Sender <raw@example.com>",
		"To: hi@example.com",
		"Subject: Raw subject",
		"Message-Id: <raw@example.com>",
		"Content-Type: multipart/mixed; boundary=b",
		"",
		"--b",
		"Content-Type: text/plain",
		"",
		"raw body",
		"--b",
		"Content-Type: application/pdf",
		"Content-Disposition: attachment; filename=\"doc.pdf\"",
		"",
		"%PDF-1.4",
		"--b--",
	}, "\r\n")

	t.Run("fills missing fields", func(t *testing.T) {
		t.Parallel()

		e := newTestBuilder().Build(webhook("to", "hi@example.com", "email", raw))

		if e.From != "Raw Sender <raw@example.com>" {
			t.Errorf("From: got %q", e.From)
		}
		if e.Subject != "Raw subject" {
			t.Errorf("Subject: got %q", e.Subject)
		}
		if e.TextBody != "raw body" {
			t.Errorf("TextBody: got %q", e.TextBody)
		}
		if e.MessageID != "<raw@example.com>" {
			t.Errorf("MessageID: got %q", e.MessageID)
		}
		if len(e.Attachments) != 1 || e.Attachments[0].Filename != "doc.pdf" {
			t.Errorf("Attachments: got %+v", e.Attachments)
		}
	})

	t.Run("form fields win", func(t *testing.T) {
		t.Parallel()

		e := newTestBuilder().Build(webhook("to", "hi@example.com", "subject", "Form subject", "text", "form body", "email", raw))

		if e.Subject != "Form subject" {
			t.Errorf("Subject: got %q", e.Subject)
		}
		if e.TextBody != "form body" {
			t.Errorf("TextBody: got %q", e.TextBody)
		}
	})

	t.Run("unparseable raw email is ignored", func(t *testing.T) {
		t.Parallel()

		e := newTestBuilder().Build(webhook("to", "hi@example.com", "text", "form body", "email", "Content-Type: multipart/mixed\r\n\r\n--"))

		if e.TextBody != "form body" {
			t.Errorf("TextBody: got %q", e.TextBody)
		}
	})
}

func TestBuildForwardTo(t *testing.T) {
	t.Parallel()

	msg := webhook(
		"to", "Foo bar <foo@example.com>",
		"cc", "cc@example.com",
		"envelope", `{"to":["foo@example.com","cc@example.com","hidden@example.com"]}`,
	)

	e := newTestBuilder("ops@example.com").Build(msg)

	if len(e.To) != 1 || e.To[0] != "ops@example.com" {
		t.Errorf("To: got %v", e.To)
	}
	if e.Cc != nil || e.Bcc != nil {
		t.Errorf("Cc/Bcc: got %v / %v, want nil", e.Cc, e.Bcc)
	}

	want := map[string]string{
		"X-Original-To":  "Foo bar <foo@example.com>",
		"X-Original-Cc":  "cc@example.com",
		"X-Original-Bcc": "hidden@example.com",
	}
	for key, v := range want {
		got := e.RawHeaders[key]
		if len(got) != 1 || got[0] != v {
			t.Errorf("%s: got %v, want [%s]", key, got, v)
		}
	}
}

func TestBuildForwardToSkipsEmptyLists(t *testing.T) {
	t.Parallel()

	e := newTestBuilder("ops@example.com").Build(webhook("to", "hi@example.com"))

	if _, ok := e.RawHeaders["X-Original-Cc"]; ok {
		t.Error("X-Original-Cc should be absent when there was no cc")
	}
	if _, ok := e.RawHeaders["X-Original-Bcc"]; ok {
		t.Error("X-Original-Bcc should be absent when there was no bcc")
	}
}

func TestNewBuilderGeneratesIDs(t *testing.T) {
	t.Parallel()

	b := NewBuilder(nil)
	first := b.Build(webhook("to", "hi@example.com"))
	second := b.Build(webhook("to", "hi@example.com"))

	if first.ID == "" || first.ID == second.ID {
		t.Errorf("IDs: got %q and %q, want distinct non-empty", first.ID, second.ID)
	}
}

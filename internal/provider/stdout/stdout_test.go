package stdout

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shineum/inbound-parse-relay/internal/email"
)

func TestSend_RelayedMessage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	msg := &email.Email{
		ID:       "7d3c1f0e-relay",
		From:     "Joe User <joe@example.com>",
		To:       []string{`"Mr Fugushima at Fugu, Inc" <hi@example.com>`, "Foo bar <foo@example.com>"},
		Subject:  "Inbound parse",
		TextBody: "hi",
	}

	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	wantLines := []string{
		"Relay-ID: 7d3c1f0e-relay",
		"From: Joe User <joe@example.com>",
		`To: "Mr Fugushima at Fugu, Inc" <hi@example.com>, Foo bar <foo@example.com>`,
		"Subject: Inbound parse",
		"hi",
	}
	for _, line := range wantLines {
		if !strings.Contains(output, line+"\n") {
			t.Errorf("output missing line %q", line)
		}
	}
	if strings.Contains(output, "Attachments:") {
		t.Error("output should not contain Attachments line when there are none")
	}
	if !strings.HasPrefix(output, separator) {
		t.Error("output should start with separator line")
	}
	if !strings.HasSuffix(output, separator) {
		t.Error("output should end with separator line")
	}
}

func TestSend_OptionalLines(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		msg     *email.Email
		want    []string
		notWant []string
	}{
		{
			name:    "no cc or bcc",
			msg:     &email.Email{To: []string{"a@example.com"}},
			notWant: []string{"Cc:", "Bcc:", "Spam-Score:", "Relay-ID:"},
		},
		{
			name: "cc and bcc",
			msg: &email.Email{
				To:  []string{"a@example.com"},
				Cc:  []string{"cc@example.com"},
				Bcc: []string{"hidden@example.com"},
			},
			want: []string{"Cc: cc@example.com", "Bcc: hidden@example.com"},
		},
		{
			name: "spam score",
			msg:  &email.Email{SpamScore: "1.234", SpamReport: "Spam detection software..."},
			want: []string{"Spam-Score: 1.234"},
		},
		{
			name: "forwarded original recipients",
			msg: &email.Email{
				To: []string{"ops@example.com"},
				RawHeaders: map[string][]string{
					"X-Original-To": {"hi@example.com"},
					"X-Original-Cc": {"cc@example.com"},
					"Received":      {"by mx.example.com"},
				},
			},
			want:    []string{"X-Original-Cc: cc@example.com", "X-Original-To: hi@example.com"},
			notWant: []string{"Received:"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			if err := NewWithWriter(&buf).Send(context.Background(), tt.msg); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			output := buf.String()
			for _, s := range tt.want {
				if !strings.Contains(output, s) {
					t.Errorf("output missing %q", s)
				}
			}
			for _, s := range tt.notWant {
				if strings.Contains(output, s) {
					t.Errorf("output should not contain %q", s)
				}
			}
		})
	}
}

func TestSend_OriginalHeadersSorted(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	msg := &email.Email{RawHeaders: map[string][]string{
		"X-Original-To":  {"to@example.com"},
		"X-Original-Bcc": {"bcc@example.com"},
		"X-Original-Cc":  {"cc@example.com"},
	}}
	if err := NewWithWriter(&buf).Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	bcc := strings.Index(output, "X-Original-Bcc")
	cc := strings.Index(output, "X-Original-Cc")
	to := strings.Index(output, "X-Original-To")
	if !(bcc < cc && cc < to) {
		t.Errorf("X-Original headers not sorted:\n%s", output)
	}
}

func TestSend_WithAttachments(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	msg := &email.Email{
		From:     "sender@example.com",
		To:       []string{"alice@example.com"},
		Subject:  "Monthly Report",
		TextBody: "Please find the report attached.",
		Attachments: []email.Attachment{
			{Filename: "report.pdf", ContentType: "application/pdf", Content: make([]byte, 1258291)},
			{Filename: "photo.jpg", ContentType: "image/jpeg", Content: make([]byte, 46080)},
		},
	}

	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "Attachments: report.pdf (1.2 MB), photo.jpg (45.0 KB)") {
		t.Errorf("unexpected attachments line in:\n%s", output)
	}
}

func TestSend_HTMLBodyFallback(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	msg := &email.Email{
		From:     "sender@example.com",
		To:       []string{"recipient@example.com"},
		Subject:  "HTML Only",
		HtmlBody: "<b>hello there</b>",
	}

	if err := NewWithWriter(&buf).Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "<b>hello there</b>") {
		t.Error("output should display HTML body when text body is empty")
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestSend_WriteErrorIgnored(t *testing.T) {
	t.Parallel()

	p := NewWithWriter(failingWriter{})
	if err := p.Send(context.Background(), &email.Email{ID: "x"}); err != nil {
		t.Errorf("Send: got %v, want nil", err)
	}
}

func TestName(t *testing.T) {
	t.Parallel()

	p := New()
	if p.Name() != "stdout" {
		t.Errorf("Name: got %q, want %q", p.Name(), "stdout")
	}
}

func TestFormatSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		bytes int
		want  string
	}{
		{name: "zero bytes", bytes: 0, want: "0 B"},
		{name: "small bytes", bytes: 512, want: "512 B"},
		{name: "kilobytes", bytes: 46080, want: "45.0 KB"},
		{name: "megabytes", bytes: 1258291, want: "1.2 MB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := formatSize(tt.bytes); got != tt.want {
				t.Errorf("formatSize(%d): got %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}

package inbound

import (
	"encoding/json"
	"strings"
)

// Envelope lists the SMTP-level recipients and senders reported by the
// provider, independent of the visible To and Cc headers.
type Envelope struct {
	To   []string     `json:"to"`
	From stringOrList `json:"from"`
}

// stringOrList decodes either a JSON string or an array of strings. Live
// webhooks post the envelope sender as a single string. Any other shape
// decodes to nil, since nothing downstream depends on the sender.
type stringOrList []string

func (l *stringOrList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil && string(b) != "null" {
		*l = stringOrList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		*l = nil
		return nil
	}
	*l = many
	return nil
}

// DecodeEnvelope decodes the envelope JSON field. Blank input and JSON null
// both decode to an empty Envelope.
func DecodeEnvelope(raw string) (Envelope, error) {
	var env Envelope
	if strings.TrimSpace(raw) == "" {
		return env, nil
	}
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return Envelope{}, &DecodeError{Kind: KindEnvelope, Field: fieldEnvelope, Err: err}
	}
	return env, nil
}

// ResolveBcc derives the blind-copy recipients: the envelope's "to" entries,
// in order, minus every entry that is exactly equal to the bare mailbox of
// a visible To or Cc recipient. The comparison is on the literal string, so
// an envelope entry written as `Name <addr>` is always kept.
func ResolveBcc(envelope string, to, cc []Address) ([]string, error) {
	env, err := DecodeEnvelope(envelope)
	if err != nil {
		return []string{}, err
	}

	visible := make(map[string]struct{}, len(to)+len(cc))
	for _, a := range to {
		visible[a.Mailbox] = struct{}{}
	}
	for _, a := range cc {
		visible[a.Mailbox] = struct{}{}
	}

	bcc := make([]string, 0, len(env.To))
	for _, rcpt := range env.To {
		if _, ok := visible[rcpt]; ok {
			continue
		}
		bcc = append(bcc, rcpt)
	}
	return bcc, nil
}

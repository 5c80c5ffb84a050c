package inbound

// Webhook field names.
const (
	fieldTo               = "to"
	fieldCc               = "cc"
	fieldBcc              = "bcc"
	fieldEnvelope         = "envelope"
	fieldCharsets         = "charsets"
	fieldSpamReport       = "spam_report"
	fieldSpamScore        = "spam_score"
	fieldAttachmentCount  = "attachments"
	fieldAttachmentInfo   = "attachment-info"
	fieldAttachmentPrefix = "attachment"
)

// Message is a normalized webhook payload.
type Message struct {
	To          []string
	Cc          []string
	Bcc         []string
	Attachments []Attachment
	Charsets    map[string]string
	SpamReport  SpamReport

	// Fields holds every other posted field after UTF-8 repair. The
	// attachment side-channel fields are never present.
	Fields *Params

	// Recovered lists malformed fields that were replaced by defaults.
	Recovered []*DecodeError
}

// Normalize turns a raw webhook payload into a Message. raw is not
// modified. Normalize never fails: malformed address lists, envelope,
// charsets or attachment metadata fall back to empty values and are
// recorded in Message.Recovered.
func Normalize(raw *Params) *Message {
	p := raw.Clone()
	msg := &Message{}

	repairParams(p)

	attachments, err := ExtractAttachments(p)
	msg.Attachments = attachments
	msg.recover(err)

	to, err := ParseAddressList(p.Text(fieldTo))
	msg.recover(withField(err, fieldTo))
	cc, err := ParseAddressList(p.Text(fieldCc))
	msg.recover(withField(err, fieldCc))
	msg.To = formatAddresses(to)
	msg.Cc = formatAddresses(cc)

	bcc, err := ResolveBcc(p.Text(fieldEnvelope), to, cc)
	msg.Bcc = bcc
	msg.recover(err)

	charsets, err := NormalizeCharsets(p.Text(fieldCharsets))
	msg.Charsets = charsets
	msg.recover(err)

	msg.SpamReport = BuildSpamReport(p)

	for _, key := range []string{fieldTo, fieldCc, fieldBcc, fieldCharsets, fieldSpamReport} {
		p.Delete(key)
	}
	msg.Fields = p

	return msg
}

// Map renders the message as a single mapping: the pass-through fields plus
// to, cc, bcc, attachments, charsets and spam_report. Pass-through text
// fields map to strings and uploaded files to *Upload.
func (m *Message) Map() map[string]any {
	out := make(map[string]any, m.Fields.Len()+6)
	for _, key := range m.Fields.Keys() {
		v, _ := m.Fields.Get(key)
		if v.IsFile() {
			out[key] = v.File
			continue
		}
		out[key] = v.Text
	}
	out[fieldTo] = m.To
	out[fieldCc] = m.Cc
	out[fieldBcc] = m.Bcc
	out[fieldAttachmentCount] = m.Attachments
	out[fieldCharsets] = m.Charsets
	out[fieldSpamReport] = m.SpamReport
	return out
}

// Text returns a pass-through text field, such as subject or html.
func (m *Message) Text(key string) string {
	return m.Fields.Text(key)
}

func (m *Message) recover(err error) {
	if err == nil {
		return
	}
	if de, ok := err.(*DecodeError); ok {
		m.Recovered = append(m.Recovered, de)
	}
}

func withField(err error, field string) error {
	if de, ok := err.(*DecodeError); ok {
		de.Field = field
	}
	return err
}

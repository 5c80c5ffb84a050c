package inbound

import (
	"strings"

	"github.com/emersion/go-message/mail"
)

// Address is one parsed recipient.
type Address struct {
	Name    string
	Mailbox string
}

// Formatted renders the address as `Name <mailbox>`, or the bare mailbox
// when there is no display name. Names that are not a plain run of ASCII
// atoms are written as a quoted string.
func (a Address) Formatted() string {
	if a.Name == "" {
		return a.Mailbox
	}
	return quotePhrase(a.Name) + " <" + a.Mailbox + ">"
}

// ParseAddressList parses a comma-delimited address list. Empty or blank
// input yields an empty list. When the list cannot be parsed the result is
// empty and a *DecodeError describes why.
func ParseAddressList(raw string) ([]Address, error) {
	if strings.TrimSpace(raw) == "" {
		return []Address{}, nil
	}

	parsed, err := mail.ParseAddressList(raw)
	if err != nil {
		return []Address{}, &DecodeError{Kind: KindAddress, Err: err}
	}

	addrs := make([]Address, 0, len(parsed))
	for _, a := range parsed {
		addrs = append(addrs, Address{Name: a.Name, Mailbox: a.Address})
	}
	return addrs, nil
}

// formatAddresses maps addrs to their formatted strings.
func formatAddresses(addrs []Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Formatted())
	}
	return out
}

// quotePhrase returns name unchanged when every word is an ASCII atom,
// otherwise as an RFC 5322 quoted-string.
func quotePhrase(name string) string {
	if isPlainPhrase(name) {
		return name
	}

	var b strings.Builder
	b.Grow(len(name) + 2)
	b.WriteByte('"')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '"' || c == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	b.WriteByte('"')
	return b.String()
}

func isPlainPhrase(name string) bool {
	if strings.TrimSpace(name) != name {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == ' ' {
			continue
		}
		if !isAtext(c) {
			return false
		}
	}
	return true
}

// isAtext reports whether c is an RFC 5322 atext character.
func isAtext(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("!#$%&'*+-/=?^_`{|}~", c) >= 0
}

package inbound

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// RepairUTF8 returns s unchanged when it is valid UTF-8. Otherwise the bytes
// are read as ISO-8859-1, which maps every byte to a code point, and the
// result is returned as UTF-8.
func RepairUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}

	out, err := charmap.ISO8859_1.NewDecoder().String(s)
	if err != nil {
		// ISO-8859-1 is total, so this only trips on a broken decoder.
		return strings.ToValidUTF8(s, "\uFFFD")
	}
	return out
}

// repairParams rewrites every text value of p in place.
func repairParams(p *Params) {
	for _, key := range p.keys {
		v := p.values[key]
		if v.IsFile() {
			continue
		}
		p.values[key] = TextValue(RepairUTF8(v.Text))
	}
}

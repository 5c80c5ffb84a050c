package inbound

import (
	"encoding/json"
	"strings"
)

// NormalizedCharset is the label every reported charset is rewritten to.
// Text fields are already repaired to UTF-8 by the time charsets are read.
const NormalizedCharset = "UTF-8"

// NormalizeCharsets decodes the charsets JSON field, a flat object of field
// name to charset label, and maps every key to NormalizedCharset. Blank or
// malformed input yields an empty map.
func NormalizeCharsets(raw string) (map[string]string, error) {
	charsets := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return charsets, nil
	}

	var reported map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &reported); err != nil {
		return charsets, &DecodeError{Kind: KindCharsets, Field: fieldCharsets, Err: err}
	}
	for field := range reported {
		charsets[field] = NormalizedCharset
	}
	return charsets, nil
}

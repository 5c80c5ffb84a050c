// Package inbound normalizes inbound-parse webhook payloads into a canonical
// message with every text field repaired to UTF-8.
package inbound

// Upload is a file posted as part of the webhook form.
type Upload struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"-"`
}

// Value holds either a text field or an uploaded file, never both.
type Value struct {
	Text string
	File *Upload
}

// TextValue wraps s as a text Value.
func TextValue(s string) Value {
	return Value{Text: s}
}

// FileValue wraps u as a file Value.
func FileValue(u *Upload) Value {
	return Value{File: u}
}

// IsFile reports whether v carries an uploaded file.
func (v Value) IsFile() bool {
	return v.File != nil
}

// Params is an insertion-ordered mapping of form field names to values.
// The zero value is ready to use.
type Params struct {
	keys   []string
	values map[string]Value
}

// NewParams returns an empty Params.
func NewParams() *Params {
	return &Params{values: make(map[string]Value)}
}

// Set stores v under key. An existing key keeps its position.
func (p *Params) Set(key string, v Value) {
	if p.values == nil {
		p.values = make(map[string]Value)
	}
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = v
}

// SetText is shorthand for Set(key, TextValue(s)).
func (p *Params) SetText(key, s string) {
	p.Set(key, TextValue(s))
}

// Get returns the value stored under key.
func (p *Params) Get(key string) (Value, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Text returns the text stored under key, or "" when the key is absent
// or holds a file.
func (p *Params) Text(key string) string {
	v, ok := p.values[key]
	if !ok || v.IsFile() {
		return ""
	}
	return v.Text
}

// Lookup is like Text but also reports whether a text value was present.
func (p *Params) Lookup(key string) (string, bool) {
	v, ok := p.values[key]
	if !ok || v.IsFile() {
		return "", false
	}
	return v.Text, true
}

// Delete removes key and returns the value it held.
func (p *Params) Delete(key string) (Value, bool) {
	v, ok := p.values[key]
	if !ok {
		return Value{}, false
	}
	delete(p.values, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
	return v, true
}

// Keys returns the field names in insertion order.
func (p *Params) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Len returns the number of fields.
func (p *Params) Len() int {
	return len(p.keys)
}

// Clone returns a copy of p. Upload contents are shared.
func (p *Params) Clone() *Params {
	c := &Params{
		keys:   make([]string, len(p.keys)),
		values: make(map[string]Value, len(p.values)),
	}
	copy(c.keys, p.keys)
	for k, v := range p.values {
		c.values[k] = v
	}
	return c
}

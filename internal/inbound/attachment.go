package inbound

import (
	"encoding/json"
	"errors"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Attachment is one file extracted from the indexed attachment fields.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"-"`
}

// attachmentInfo is one entry of the attachment-info side channel.
type attachmentInfo struct {
	Filename string `json:"filename"`
	Name     string `json:"name"`
	Type     string `json:"type"`
}

// ExtractAttachments removes the attachment count, the attachment-info
// metadata and every attachment{i} field from p and returns the files in
// ascending index order. A malformed attachment-info field is treated as
// empty and reported through the returned error; the attachments are still
// extracted.
func ExtractAttachments(p *Params) ([]Attachment, error) {
	countValue, _ := p.Delete(fieldAttachmentCount)
	count := parseCount(countValue.Text)

	infoValue, _ := p.Delete(fieldAttachmentInfo)
	info, err := decodeAttachmentInfo(infoValue.Text)

	indexes := indexedFields(p)
	attachments := make([]Attachment, 0, len(indexes))
	for _, i := range indexes {
		key := attachmentKey(i)
		v, _ := p.Delete(key)
		// Indexed fields beyond the reported count are dropped, not passed through.
		if i > count {
			continue
		}

		att := attachmentFromValue(key, v)
		if meta, ok := info[key]; ok {
			if meta.Filename != "" {
				att.Filename = meta.Filename
			}
			if att.ContentType == "" {
				att.ContentType = meta.Type
			}
		}
		if att.ContentType == "" {
			att.ContentType = mimetype.Detect(att.Content).String()
		}
		attachments = append(attachments, att)
	}

	return attachments, err
}

func attachmentFromValue(key string, v Value) Attachment {
	if v.IsFile() {
		return Attachment{
			Filename:    v.File.Filename,
			ContentType: v.File.ContentType,
			Content:     v.File.Content,
		}
	}
	return Attachment{Filename: key, Content: []byte(v.Text)}
}

func decodeAttachmentInfo(raw string) (map[string]attachmentInfo, error) {
	info := make(map[string]attachmentInfo)
	if strings.TrimSpace(raw) == "" {
		return info, nil
	}
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return map[string]attachmentInfo{}, &DecodeError{Kind: KindAttachmentInfo, Field: fieldAttachmentInfo, Err: err}
	}
	if info == nil {
		info = make(map[string]attachmentInfo)
	}
	return info, nil
}

// parseCount reads the leading decimal integer of s, ignoring surrounding
// whitespace and one leading plus sign. Anything without leading digits, or
// a negative number, is 0.
func parseCount(s string) int {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "+")
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if errors.Is(err, strconv.ErrRange) {
		return math.MaxInt
	}
	if err != nil {
		return 0
	}
	return n
}

// indexedFields returns the indexes of every attachment{i} key in p,
// ascending.
func indexedFields(p *Params) []int {
	var indexes []int
	for _, key := range p.keys {
		if i, ok := attachmentIndex(key); ok {
			indexes = append(indexes, i)
		}
	}
	slices.Sort(indexes)
	return indexes
}

func attachmentKey(i int) string {
	return fieldAttachmentPrefix + strconv.Itoa(i)
}

// attachmentIndex parses the index out of an attachment{i} key.
func attachmentIndex(key string) (int, bool) {
	digits, ok := strings.CutPrefix(key, fieldAttachmentPrefix)
	if !ok || digits == "" {
		return 0, false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 || attachmentKey(n) != key {
		return 0, false
	}
	return n, true
}

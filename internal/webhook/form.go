package webhook

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sort"

	"github.com/shineum/inbound-parse-relay/internal/inbound"
)

// errUnsupportedForm is returned for bodies that are not form encoded.
var errUnsupportedForm = errors.New("unsupported content type, want multipart/form-data")

// readParams reads the posted form into Params. Multipart fields keep their
// posted order; parts with a filename become uploads. Text values are kept
// as raw bytes since their charset is not known yet.
func readParams(r *http.Request) (*inbound.Params, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse content type: %w", err)
	}

	switch mediaType {
	case "multipart/form-data":
		return readMultipart(r)
	case "application/x-www-form-urlencoded":
		return readURLEncoded(r)
	default:
		return nil, errUnsupportedForm
	}
}

func readMultipart(r *http.Request) (*inbound.Params, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("failed to read multipart body: %w", err)
	}

	p := inbound.NewParams()
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return p, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read form part: %w", err)
		}

		name := part.FormName()
		content, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read form field %q: %w", name, err)
		}
		if name == "" {
			continue
		}

		if filename := part.FileName(); filename != "" {
			p.Set(name, inbound.FileValue(&inbound.Upload{
				Filename:    filename,
				ContentType: part.Header.Get("Content-Type"),
				Content:     content,
			}))
			continue
		}
		p.SetText(name, string(content))
	}
}

// readURLEncoded reads a urlencoded form. Field order is not recoverable
// from url.Values, so keys are sorted.
func readURLEncoded(r *http.Request) (*inbound.Params, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("failed to parse form: %w", err)
	}

	keys := make([]string, 0, len(r.PostForm))
	for k := range r.PostForm {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p := inbound.NewParams()
	for _, k := range keys {
		p.SetText(k, r.PostForm.Get(k))
	}
	return p, nil
}

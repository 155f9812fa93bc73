package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"strings"

	"code.sajari.com/docconv"

	"github.com/quarrylabs/kbindex/internal/core"
)

// converter turns one document format into plain text.
type converter func(r io.Reader) (string, map[string]string, error)

// DocconvExtractor implements core.TextExtractor with a per-format dispatch
// table over sajari/docconv. Unknown mime types fail with
// ErrUnsupportedFormat; decode failures with ErrCorruptDocument.
type DocconvExtractor struct {
	converters map[string]converter
}

var _ core.TextExtractor = (*DocconvExtractor)(nil)

func NewDocconvExtractor() *DocconvExtractor {
	return &DocconvExtractor{
		converters: map[string]converter{
			"application/pdf": docconv.ConvertPDF,
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document": docconv.ConvertDocx,
			"application/msword": docconv.ConvertDoc,
			"text/plain":         convertPlain,
			"text/markdown":      convertPlain,
		},
	}
}

func (e *DocconvExtractor) ExtractText(ctx context.Context, raw []byte, mimeHint string) (string, error) {
	conv, err := e.converterFor(mimeHint)
	if err != nil {
		return "", err
	}

	text, _, err := conv(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("extract %s: %v: %w", mimeHint, err, core.ErrCorruptDocument)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (e *DocconvExtractor) converterFor(mimeHint string) (converter, error) {
	mt := mimeHint
	if parsed, _, err := mime.ParseMediaType(mimeHint); err == nil {
		mt = parsed
	}
	conv, ok := e.converters[mt]
	if !ok {
		return nil, fmt.Errorf("mime type %q: %w", mimeHint, core.ErrUnsupportedFormat)
	}
	return conv, nil
}

func convertPlain(r io.Reader) (string, map[string]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", nil, err
	}
	return string(data), nil, nil
}

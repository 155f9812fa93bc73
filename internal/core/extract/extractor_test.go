package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/kbindex/internal/core"
)

func Test_ExtractText_PlainText(t *testing.T) {
	e := NewDocconvExtractor()

	text, err := e.ExtractText(context.Background(), []byte("  hello world\n"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
}

func Test_ExtractText_MimeParams(t *testing.T) {
	e := NewDocconvExtractor()

	text, err := e.ExtractText(context.Background(), []byte("hi"), "text/plain; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, "hi", text)
}

func Test_ExtractText_UnsupportedFormat(t *testing.T) {
	e := NewDocconvExtractor()

	_, err := e.ExtractText(context.Background(), []byte{0x1, 0x2}, "image/png")
	assert.ErrorIs(t, err, core.ErrUnsupportedFormat)
}

func Test_ExtractText_CorruptDocument(t *testing.T) {
	e := NewDocconvExtractor()

	_, err := e.ExtractText(context.Background(), []byte("not a real docx"), "application/vnd.openxmlformats-officedocument.wordprocessingml.document")
	assert.ErrorIs(t, err, core.ErrCorruptDocument)
}

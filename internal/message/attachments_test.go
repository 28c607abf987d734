package message

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachments(t *testing.T) {
	p, err := Parse([]byte(multipartMessage), time.Now())
	require.NoError(t, err)

	metas := p.Attachments()
	require.Len(t, metas, 2)

	t.Run("extension from file name", func(t *testing.T) {
		assert.Equal(t, 1, metas[0].Index)
		assert.Equal(t, "Report.PDF", metas[0].Name)
		assert.Equal(t, "pdf", metas[0].Extension)
		assert.Equal(t, "1-"+md5Hex("Report.PDF")+".pdf", metas[0].Location)
	})

	t.Run("extension from content type", func(t *testing.T) {
		assert.Equal(t, "noext", metas[1].Name)
		assert.Equal(t, "pdf", metas[1].Extension)
		assert.Equal(t, "2-"+md5Hex("noext")+".pdf", metas[1].Location)
	})

	t.Run("fetch content", func(t *testing.T) {
		content, err := p.FetchContent(1)
		require.NoError(t, err)
		assert.Equal(t, "%PDF-1.4\n", string(content))
		assert.Equal(t, len(content), metas[0].Size)

		_, err = p.FetchContent(3)
		assert.Error(t, err)
		_, err = p.FetchContent(0)
		assert.Error(t, err)
	})

	t.Run("save to disk", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "att")
		content, err := p.FetchContent(2)
		require.NoError(t, err)

		path, err := SaveToDisk(dir, metas[1].Location, content)
		require.NoError(t, err)

		written, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, content, written)

		_, err = SaveToDisk(dir, "../escape", content)
		assert.Error(t, err)
	})
}

func TestFileExtension(t *testing.T) {
	tests := []struct {
		name        string
		file        string
		contentType string
		content     []byte
		want        string
	}{
		{name: "from name", file: "a.DOCX", want: "docx"},
		{name: "from content type", file: "a", contentType: "image/png", want: "png"},
		{name: "sniffed", file: "a", content: []byte("%PDF-1.4\n"), want: "pdf"},
		{name: "weird name ext is ignored", file: "a.this is not ext", contentType: "application/pdf", want: "pdf"},
		{name: "unknown", file: "a", want: "bin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fileExtension(tt.file, tt.contentType, tt.content))
		})
	}
}

func TestPlainMessageHasNoAttachments(t *testing.T) {
	p, err := Parse([]byte("From: a@b.example\r\nSubject: x\r\n\r\nBody\r\n"), time.Now())
	require.NoError(t, err)
	assert.Empty(t, p.Attachments())
}

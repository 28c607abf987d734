package message

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/jhillyerd/enmime"
)

// AttachmentMeta describes one attachment part without its content.
type AttachmentMeta struct {
	// Index is the 1-based position among the message's attachments.
	Index       int
	Name        string
	ContentType string
	Extension   string
	// Location is the storage token: ordinal, name hash and extension.
	Location string
	Size     int
}

var extensionPattern = regexp.MustCompile(`^[a-z0-9]{1,8}$`)

// attachmentParts returns every part that carries a file name, in message order.
func (p *Parsed) attachmentParts() []*enmime.Part {
	var parts []*enmime.Part
	for _, group := range [][]*enmime.Part{p.envelope.Attachments, p.envelope.Inlines, p.envelope.OtherParts} {
		for _, part := range group {
			if strings.TrimSpace(part.FileName) != "" {
				parts = append(parts, part)
			}
		}
	}
	return parts
}

// Attachments lists the message's attachments.
func (p *Parsed) Attachments() []AttachmentMeta {
	parts := p.attachmentParts()
	metas := make([]AttachmentMeta, 0, len(parts))

	for i, part := range parts {
		name := strings.TrimSpace(part.FileName)
		ext := fileExtension(name, part.ContentType, part.Content)
		metas = append(metas, AttachmentMeta{
			Index:       i + 1,
			Name:        name,
			ContentType: part.ContentType,
			Extension:   ext,
			Location:    LocationToken(i+1, name, ext),
			Size:        len(part.Content),
		})
	}

	return metas
}

// FetchContent returns the decoded bytes of the attachment with the given 1-based index.
func (p *Parsed) FetchContent(index int) ([]byte, error) {
	parts := p.attachmentParts()
	if index < 1 || index > len(parts) {
		return nil, fmt.Errorf("attachment %d out of range (message has %d)", index, len(parts))
	}
	return parts[index-1].Content, nil
}

// LocationToken builds the storage name of an attachment.
func LocationToken(index int, name, ext string) string {
	sum := md5.Sum([]byte(name))
	return fmt.Sprintf("%d-%s.%s", index, hex.EncodeToString(sum[:]), ext)
}

// fileExtension takes the extension from the file name, then from the
// declared content type, then from the content itself.
func fileExtension(name, contentType string, content []byte) string {
	if ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")); extensionPattern.MatchString(ext) {
		return ext
	}

	if contentType != "" {
		if m := mimetype.Lookup(contentType); m != nil {
			if ext := strings.TrimPrefix(m.Extension(), "."); ext != "" {
				return ext
			}
		}
	}

	if len(content) > 0 {
		if ext := strings.TrimPrefix(mimetype.Detect(content).Extension(), "."); ext != "" {
			return ext
		}
	}

	return "bin"
}

// SaveToDisk writes content to dir/location and returns the full path.
func SaveToDisk(dir, location string, content []byte) (string, error) {
	if strings.ContainsAny(location, `/\`) || location == "" || location == "." || location == ".." {
		return "", fmt.Errorf("invalid attachment location %q", location)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create attachment directory: %w", err)
	}

	path := filepath.Join(dir, location)
	if err := os.WriteFile(path, content, 0o640); err != nil {
		return "", fmt.Errorf("failed to write attachment: %w", err)
	}
	return path, nil
}

package testutil

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
)

// TestAttachment is one attachment of a TestMessage.
type TestAttachment struct {
	Name        string
	ContentType string
	Content     []byte
}

// TestMessage describes a message built by BuildMessage.
type TestMessage struct {
	MessageID   string
	From        string
	To          []string
	Cc          []string
	Subject     string
	Date        time.Time
	Body        string
	Attachments []TestAttachment
}

func addressList(addrs []string) []*mail.Address {
	list := make([]*mail.Address, 0, len(addrs))
	for _, a := range addrs {
		list = append(list, &mail.Address{Address: a})
	}
	return list
}

// BuildMessage renders m as an RFC 5322 multipart message.
func BuildMessage(t *testing.T, m TestMessage) []byte {
	t.Helper()

	var h mail.Header
	h.SetDate(m.Date)
	h.SetSubject(m.Subject)
	h.SetAddressList("From", addressList([]string{m.From}))
	h.SetAddressList("To", addressList(m.To))
	if len(m.Cc) > 0 {
		h.SetAddressList("Cc", addressList(m.Cc))
	}
	if m.MessageID != "" {
		h.SetMessageID(strings.Trim(m.MessageID, "<>"))
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		t.Fatalf("Failed to create message writer: %v", err)
	}

	var th mail.InlineHeader
	th.Set("Content-Type", "text/plain; charset=utf-8")
	w, err := mw.CreateSingleInline(th)
	if err != nil {
		t.Fatalf("Failed to create text part: %v", err)
	}
	if _, err := io.WriteString(w, m.Body); err != nil {
		t.Fatalf("Failed to write text part: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Failed to close text part: %v", err)
	}

	for _, a := range m.Attachments {
		var ah mail.AttachmentHeader
		ah.Set("Content-Type", a.ContentType)
		ah.SetFilename(a.Name)
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			t.Fatalf("Failed to create attachment: %v", err)
		}
		if _, err := aw.Write(a.Content); err != nil {
			t.Fatalf("Failed to write attachment: %v", err)
		}
		if err := aw.Close(); err != nil {
			t.Fatalf("Failed to close attachment: %v", err)
		}
	}

	if err := mw.Close(); err != nil {
		t.Fatalf("Failed to close message: %v", err)
	}

	return buf.Bytes()
}

package smtp

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
)

// Message is one outgoing plain text email.
type Message struct {
	From     string
	FromName string
	// To is a comma-separated address list.
	To      string
	Subject string
	Body    string
	Date    time.Time
}

// Compose renders m as an RFC 5322 message with a generated Message-ID.
func Compose(m *Message) ([]byte, error) {
	to, err := mail.ParseAddressList(m.To)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient list %q: %w", m.To, err)
	}

	date := m.Date
	if date.IsZero() {
		date = time.Now()
	}

	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Name: m.FromName, Address: m.From}})
	h.SetAddressList("To", to)
	h.SetSubject(m.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := io.WriteString(w, m.Body); err != nil {
		return nil, fmt.Errorf("failed to write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish message: %w", err)
	}

	return buf.Bytes(), nil
}

// recipients returns the bare addresses of m.To for the envelope.
func recipients(m *Message) ([]string, error) {
	list, err := mail.ParseAddressList(m.To)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient list %q: %w", m.To, err)
	}
	addrs := make([]string, 0, len(list))
	for _, a := range list {
		addrs = append(addrs, a.Address)
	}
	return addrs, nil
}

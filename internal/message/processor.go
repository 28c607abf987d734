package message

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"

	"github.com/offpost/mailsync/internal/models"
)

// ParseError means a message's headers could not be read. It is fatal for
// that message only.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse message: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// addressHeaders are read, in order, to build a message's address list.
var addressHeaders = []string{"To", "From", "Cc", "Reply-To", "Sender"}

var addressPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-=']+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

const naturalIDTimeLayout = "2006-01-02__150405"

// Parsed is a message with the fields the sync engine routes and stores by.
type Parsed struct {
	Subject   string
	Date      time.Time
	MessageID string
	// From holds the lower-cased sender addresses.
	From []string
	// Addresses holds every address in the routing headers, lower-cased
	// and without duplicates.
	Addresses []string
	Raw       []byte

	envelope *enmime.Envelope
}

// Parse reads raw. fallbackDate is used when the Date header is missing or
// unparseable, normally the server's internal date.
func Parse(raw []byte, fallbackDate time.Time) (*Parsed, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	p := &Parsed{
		Subject:   strings.TrimSpace(env.GetHeader("Subject")),
		MessageID: strings.TrimSpace(env.GetHeader("Message-ID")),
		Raw:       raw,
		envelope:  env,
	}

	p.Date = fallbackDate
	if d, err := mail.ParseDate(env.GetHeader("Date")); err == nil {
		p.Date = d
	}

	seen := map[string]bool{}
	for _, key := range addressHeaders {
		for _, addr := range headerAddresses(env, key) {
			if key == "From" {
				p.From = appendUnique(p.From, addr)
			}
			if !seen[addr] {
				seen[addr] = true
				p.Addresses = append(p.Addresses, addr)
			}
		}
	}

	return p, nil
}

// headerAddresses returns the lower-cased addresses in header key. Malformed
// lists fall back to scanning for anything that looks like an address.
func headerAddresses(env *enmime.Envelope, key string) []string {
	list, err := env.AddressList(key)
	if err == nil {
		out := make([]string, 0, len(list))
		for _, a := range list {
			out = append(out, strings.ToLower(strings.TrimSpace(a.Address)))
		}
		return out
	}
	if errors.Is(err, mail.ErrHeaderNotPresent) {
		return nil
	}

	var out []string
	for _, value := range env.GetHeaderValues(key) {
		for _, m := range addressPattern.FindAllString(value, -1) {
			out = append(out, strings.ToLower(m))
		}
	}
	return out
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

// Header returns the first value of header key, decoded.
func (p *Parsed) Header(key string) string {
	return p.envelope.GetHeader(key)
}

// HeaderBlock returns the raw header section of the message.
func (p *Parsed) HeaderBlock() string {
	if i := bytes.Index(p.Raw, []byte("\r\n\r\n")); i >= 0 {
		return string(p.Raw[:i])
	}
	if i := bytes.Index(p.Raw, []byte("\n\n")); i >= 0 {
		return string(p.Raw[:i])
	}
	return string(p.Raw)
}

// Text returns the plain text body, falling back to the HTML converted to text.
func (p *Parsed) Text() string {
	return p.envelope.Text
}

// Direction is OUT when the identity sent the message, IN otherwise.
func (p *Parsed) Direction(myEmail string) models.Direction {
	me := strings.ToLower(strings.TrimSpace(myEmail))
	for _, from := range p.From {
		if from == me {
			return models.DirectionOut
		}
	}
	return models.DirectionIn
}

// NaturalID identifies the message independently of UIDs and folders:
// the UTC send time to the second plus an MD5 of the subject.
func (p *Parsed) NaturalID() string {
	return NaturalID(p.Date, p.Subject)
}

func NaturalID(date time.Time, subject string) string {
	sum := md5.Sum([]byte(subject))
	return date.UTC().Format(naturalIDTimeLayout) + "__" + hex.EncodeToString(sum[:])
}

// ContentHash is a SHA-256 of the raw message. It tells identical copies
// apart from different messages that share a natural identifier.
func (p *Parsed) ContentHash() string {
	sum := sha256.Sum256(p.Raw)
	return hex.EncodeToString(sum[:])
}

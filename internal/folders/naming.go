package folders

import (
	"io"
	"mime"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/emersion/go-message/charset"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/offpost/mailsync/internal/models"
)

// TruncationMarker ends a folder name that was cut to fit the length limit.
// It is itself an illegal character, so a truncated name never collides with
// an untruncated one.
const TruncationMarker = "~"

const illegalFolderChars = `./\*%"&~`

// Namer derives IMAP folder names for threads.
type Namer struct {
	Root           string
	Delimiter      string
	ArchiveSegment string
	// MaxNameLength limits the thread part of the name. Zero means no limit.
	MaxNameLength int
}

// FolderFor returns the folder a thread belongs in: the active namespace for
// live threads and the archive namespace for archived ones. It is pure.
func (n Namer) FolderFor(entityID string, thread *models.Thread) string {
	if thread.Archived {
		return n.ArchiveFolder(entityID, thread.Title)
	}
	return n.ActiveFolder(entityID, thread.Title)
}

func (n Namer) ActiveFolder(entityID, title string) string {
	return n.Root + n.Delimiter + n.threadName(entityID, title)
}

func (n Namer) ArchiveFolder(entityID, title string) string {
	return n.ArchivePrefix() + n.threadName(entityID, title)
}

// ArchiveRoot is the parent folder of all archived threads.
func (n Namer) ArchiveRoot() string {
	return n.Root + n.Delimiter + n.ArchiveSegment
}

// ArchivePrefix is what every archived thread folder starts with.
func (n Namer) ArchivePrefix() string {
	return n.ArchiveRoot() + n.Delimiter
}

func (n Namer) IsArchived(folder string) bool {
	return strings.HasPrefix(folder, n.ArchivePrefix())
}

func (n Namer) threadName(entityID, title string) string {
	name := sanitize(transliterate(entityID + " - " + decodeTitle(title)))

	if n.MaxNameLength > 0 && len(name) > n.MaxNameLength {
		cut := n.MaxNameLength - len(TruncationMarker)
		if cut < 0 {
			cut = 0
		}
		name = strings.TrimRight(name[:cut], " ") + TruncationMarker
	}

	return name
}

var wordDecoder = &mime.WordDecoder{
	CharsetReader: func(label string, input io.Reader) (io.Reader, error) {
		return charset.Reader(label, input)
	},
}

// decodeTitle expands RFC 2047 encoded words. Undecodable titles are used as is.
func decodeTitle(title string) string {
	decoded, err := wordDecoder.DecodeHeader(title)
	if err != nil {
		return title
	}
	return decoded
}

var letterReplacer = strings.NewReplacer(
	"æ", "ae", "Æ", "AE",
	"ø", "o", "Ø", "O",
	"å", "a", "Å", "A",
	"ß", "ss",
	"þ", "th", "Þ", "TH",
	"ð", "d", "Ð", "D",
	"œ", "oe", "Œ", "OE",
	"ł", "l", "Ł", "L",
)

// transliterate maps letters to ASCII where a sensible spelling exists and
// strips combining marks from the rest.
func transliterate(s string) string {
	s = letterReplacer.Replace(s)

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// sanitize replaces everything an IMAP server might reject with "_" and
// collapses whitespace.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastSpace := false
	for _, r := range s {
		switch {
		case r == utf8.RuneError:
			b.WriteByte('_')
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
			}
			lastSpace = true
		case r < 0x20 || r > 0x7e || strings.ContainsRune(illegalFolderChars, r):
			b.WriteByte('_')
			lastSpace = false
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}

	return strings.TrimSpace(b.String())
}

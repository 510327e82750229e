// Package naming builds deterministic, transliterated object keys and
// filenames for archived media.
package naming

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gosimple/slug"
)

// MaxFilename caps generated filenames. When a name overflows, the base is
// truncated and the extension preserved.
const MaxFilename = 120

var (
	wordRe     = regexp.MustCompile(`[\pL\pN_'-]+`)
	unsafeRe   = regexp.MustCompile(`[^a-z0-9._-]+`)
	collapseRe = regexp.MustCompile(`-{2,}`)
)

// Slug transliterates text to lowercase ASCII restricted to [a-z0-9._-].
// The function is idempotent: Slug(Slug(x)) == Slug(x).
func Slug(text string) string {
	s := slug.Make(text)
	s = unsafeRe.ReplaceAllString(s, "-")
	s = collapseRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// CaptionSnippet extracts up to n word tokens from a caption and slugs them.
// Returns "" for empty or token-free captions.
func CaptionSnippet(caption string, n int) string {
	if caption == "" || n <= 0 {
		return ""
	}
	words := wordRe.FindAllString(caption, n)
	if len(words) == 0 {
		return ""
	}
	return Slug(strings.Join(words, "-"))
}

// FilenameParts carries the inputs of BuildFilename.
type FilenameParts struct {
	Timestamp    time.Time // message timestamp, rendered in UTC
	ChatOrSource string
	Sender       string // "" renders as "unknown"
	MessageID    int64
	MediaGroupID string // "" omits the group segment
	Ordinal      int    // 1-based position within the message or album
	Caption      string
	Ext          string // without leading dot
}

// BuildFilename renders a deterministic archive filename:
//
//	YYYYMMDD-HHMMSS_<chat>_<sender>_m<id>[-g<gid>]_<NNN>[_<caption>].<ext>
//
// Names over MaxFilename characters are shortened by truncating the base.
func BuildFilename(p FilenameParts) string {
	ts := p.Timestamp.UTC().Format("20060102-150405")
	sender := "unknown"
	if p.Sender != "" {
		sender = Slug(p.Sender)
	}
	group := ""
	if p.MediaGroupID != "" {
		group = "-g" + p.MediaGroupID
	}

	base := fmt.Sprintf("%s_%s_%s_m%d%s_%03d", ts, Slug(p.ChatOrSource), sender, p.MessageID, group, p.Ordinal)
	if snippet := CaptionSnippet(p.Caption, 6); snippet != "" {
		base = base + "_" + snippet
	}

	name := base + "." + p.Ext
	if overflow := len(name) - MaxFilename; overflow > 0 {
		base = base[:len(base)-overflow]
		name = base + "." + p.Ext
	}
	return name
}

// BasePath builds the bucket prefix for one archived message:
//
//	teltubby/YYYY/MM/<origin-slug>/<message-id>/
//
// Albums use the first message of the group for both timestamp and id, so
// every item of an album lands under one prefix.
func BasePath(ts time.Time, originSlug string, messageID int64) string {
	u := ts.UTC()
	return fmt.Sprintf("teltubby/%04d/%02d/%s/%d/", u.Year(), int(u.Month()), originSlug, messageID)
}

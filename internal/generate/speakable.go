package generate

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	fencedCode   = regexp.MustCompile("(?s)```.*?```")
	inlineCode   = regexp.MustCompile("`[^`]*`")
	markdownLink = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	bareURL      = regexp.MustCompile(`https?://\S+`)
	markup       = strings.NewReplacer("*", " ", "_", " ", "#", " ", "~", " ", "|", " ", "<", " ", ">", " ", "\\", " ")
)

// Speakable strips markdown, code, links and emoji from a generated reply so
// the engine reads only prose. It returns "" when nothing speakable remains.
func Speakable(reply string) string {
	s := fencedCode.ReplaceAllString(reply, " ")
	s = inlineCode.ReplaceAllString(s, " ")
	s = markdownLink.ReplaceAllString(s, "$1")
	s = bareURL.ReplaceAllString(s, " ")
	s = markup.Replace(s)

	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			if !space {
				b.WriteByte(' ')
				space = true
			}
		case unicode.IsControl(r), unicode.In(r, unicode.So, unicode.Sk, unicode.Mn) && !unicode.IsLetter(r):
			// emoji, joiners and variation selectors
		default:
			b.WriteRune(r)
			space = false
		}
	}
	return strings.TrimSpace(b.String())
}

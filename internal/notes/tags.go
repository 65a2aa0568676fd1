package notes

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/mcnijman/go-emailaddress"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var mentionPattern = regexp.MustCompile(`@([a-zA-Z0-9.-]+)`)

// ExtractTags returns the handles mentioned with @ in text, in order of appearance.
// Duplicates are kept.
func ExtractTags(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		tags = append(tags, m[1])
	}
	return tags
}

// asciiFold decomposes accented characters and drops whatever is left outside ASCII.
// A chained transformer holds state, so each call builds its own.
func asciiFold() transform.Transformer {
	return transform.Chain(
		norm.NFKD,
		runes.Remove(runes.Predicate(func(r rune) bool { return r > unicode.MaxASCII })),
	)
}

// CoordinatorHandle turns a coordinator's display name into a user handle:
// "Åsa Öberg" becomes "asa.oberg".
func CoordinatorHandle(name string) string {
	joined := strings.Join(strings.Fields(strings.ToLower(name)), ".")
	folded, _, err := transform.String(asciiFold(), joined)
	if err != nil {
		return ""
	}
	return folded
}

// localPart returns the part of an address left of the @. Unparseable addresses fall back
// to a plain split so a malformed author email never blocks note creation.
func localPart(email string) string {
	if addr, err := emailaddress.Parse(email); err == nil {
		return addr.LocalPart
	}
	head, _, _ := strings.Cut(email, "@")
	return head
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

package services

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var mentionPattern = regexp.MustCompile(`<at>.*?</at>`)

// TextCleaner normalizes raw Teams message text into plain text.
type TextCleaner struct {
	policy *bluemonday.Policy
}

func NewTextCleaner() *TextCleaner {
	return &TextCleaner{policy: bluemonday.StrictPolicy()}
}

// Clean removes @mentions and markup, decodes entities and collapses whitespace.
func (c *TextCleaner) Clean(raw string) string {
	s := mentionPattern.ReplaceAllString(raw, "")
	s = c.policy.Sanitize(s)
	s = html.UnescapeString(s)
	// strings.Fields は NBSP も空白として扱う
	s = strings.Join(strings.Fields(s), " ")
	return norm.NFC.String(s)
}

// Package sanitize strips personally-identifying fragments from
// publication text before it leaves the process. The portal parser
// scrubs record text at construction and the analyzer runs every
// outbound field through a Scrubber ahead of any network call.
package sanitize

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

	// Candidate phone sequences; confirmed by digit count so that years
	// and page numbers survive. Matches "+49 89 289 22222",
	// "(089) 289-22222", "089/289-22222".
	phoneRe = regexp.MustCompile(`[+(]?\d[\d\s().\-/]{6,}\d`)

	// Personal pages: tilde homepages, people/staff directories, and
	// social profiles. Plain publication and department URLs are kept.
	personalURLRe = regexp.MustCompile(`https?://[^\s<>"]*(?:/~[\w.\-]+|/people/|/staff/|/person/|/mitarbeiter/|linkedin\.com/in/|twitter\.com/|x\.com/|facebook\.com/)[^\s<>"]*`)

	// Calendar dates clear the phone digit threshold; they are kept.
	dateRe = regexp.MustCompile(`^(?:\d{4}-\d{2}-\d{2}|\d{1,2}\.\d{1,2}\.\d{4})$`)

	spaceRe = regexp.MustCompile(`[ \t]{2,}`)
)

const minPhoneDigits = 8

// Scrubber removes configured personal-data patterns from text.
type Scrubber struct {
	extra []*regexp.Regexp
}

// NewDefault returns a Scrubber with only the built-in rules.
func NewDefault() *Scrubber {
	return &Scrubber{}
}

// New builds a Scrubber. Extra patterns extend the built-in email,
// phone, and personal-URL rules.
func New(extraPatterns []string) (*Scrubber, error) {
	s := &Scrubber{}
	for _, p := range extraPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, eris.Wrapf(err, "sanitize: compile pattern %q", p)
		}
		s.extra = append(s.extra, re)
	}
	return s, nil
}

// Scrub returns text with all personal-data matches removed.
func (s *Scrubber) Scrub(text string) string {
	if text == "" {
		return ""
	}

	// URLs first so that an embedded email-like path segment does not
	// leave a partial URL behind.
	text = personalURLRe.ReplaceAllString(text, "")
	text = emailRe.ReplaceAllString(text, "")
	text = phoneRe.ReplaceAllStringFunc(text, func(m string) string {
		if digitCount(m) >= minPhoneDigits && !dateRe.MatchString(m) {
			return ""
		}
		return m
	})

	for _, re := range s.extra {
		text = re.ReplaceAllString(text, "")
	}

	return collapse(text)
}

// ScrubAll scrubs each string in place-order and returns a new slice.
func (s *Scrubber) ScrubAll(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = s.Scrub(t)
	}
	return out
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

func collapse(s string) string {
	s = spaceRe.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

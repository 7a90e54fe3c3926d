package parse

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	headerMaxChars = 80
	headerMaxWords = 10
)

var numberedHeaderRe = regexp.MustCompile(`^(\d+(?:\.\d+)*)\.?\s+\S`)

// headerLevel decides whether a line of extracted text is a section heading
// and how deep it sits. Returns 0 for body text. Rulebooks tend to number
// their sections ("7.2 Declaring Blockers") or shout them (ALL CAPS), so
// those patterns rank above title case.
func headerLevel(line string) int {
	line = strings.TrimSpace(line)
	if line == "" || len(line) > headerMaxChars {
		return 0
	}
	words := strings.Fields(line)
	if len(words) == 0 || len(words) > headerMaxWords {
		return 0
	}

	if sentenceTerminated(line, words) {
		return 0
	}

	if m := numberedHeaderRe.FindStringSubmatch(line); m != nil {
		depth := strings.Count(m[1], ".") + 1
		if depth > 3 {
			depth = 3
		}
		return depth
	}

	if isAllCaps(line) {
		// All-caps lines trivially pass the title-case test, so decide
		// here: short ones are headings, long ones are shouty body text.
		if len(words) <= 6 {
			return 1
		}
		return 0
	}

	if isTitleCase(words) {
		return 2
	}
	return 0
}

// sentenceTerminated rejects lines that read like sentences. A trailing dot
// can belong to the section number ("3. Setup"), but numbered full
// sentences ("509.1. The defending player declares blockers.") are rules
// text, not headings.
func sentenceTerminated(line string, words []string) bool {
	runes := []rune(line)
	if len(runes) == 0 {
		return false
	}
	if !strings.ContainsRune(".!?;:,", runes[len(runes)-1]) {
		return false
	}
	return !numberedHeaderRe.MatchString(line) || len(words) > 5
}

func isAllCaps(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			hasLetter = true
		}
	}
	return hasLetter
}

// isTitleCase wants most words capitalized, tolerating connectives like
// "of" and "the".
func isTitleCase(words []string) bool {
	if len(words) < 2 {
		// Single capitalized words ("Combat") are too common in body text
		// fragments to trust.
		return false
	}
	capitalized := 0
	for _, w := range words {
		r := []rune(w)
		if len(r) == 0 {
			continue
		}
		if unicode.IsUpper(r[0]) || unicode.IsDigit(r[0]) {
			capitalized++
		}
	}
	return capitalized*10 >= len(words)*7
}

package textfilter

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// defaultReplacements maps common English swear words to family-friendly
// alternatives. Guestbook messages are public, so these always apply.
var defaultReplacements = []struct{ word, replacement string }{
	{"motherfucker", "mother-trucker"},
	{"fuck", "fudge"},
	{"bullshit", "baloney"},
	{"horseshit", "nonsense"},
	{"dipshit", "dummy"},
	{"shithead", "jerk"},
	{"shit", "shoot"},
	{"goddamn", "gosh-dang"},
	{"damn", "dang"},
	{"hell", "heck"},
	{"asshole", "jerk"},
	{"dumbass", "dummy"},
	{"jackass", "jerk"},
	{"smartass", "smarty"},
	{"ass", "butt"},
	{"bitch", "jerk"},
	{"bastard", "jerk"},
	{"crap", "crud"},
	{"dickhead", "jerk"},
	{"dick", "jerk"},
	{"prick", "jerk"},
	{"douchebag", "jerk"},
	{"douche", "jerk"},
	{"cock", "[censored]"},
	{"pussy", "[censored]"},
	{"whore", "[censored]"},
	{"slut", "[censored]"},
	{"fag", "[censored]"},
	{"retard", "[censored]"},
	{"nigger", "[censored]"},
	{"nigga", "[censored]"},
	{"spic", "[censored]"},
	{"chink", "[censored]"},
	{"kike", "[censored]"},
}

type rule struct {
	re          *regexp.Regexp
	replacement string // empty means mask with asterisks
	wordBounded bool
}

// ProfanityFilter handles filtering and replacement of profanity
type ProfanityFilter struct {
	rules []rule
}

// NewProfanityFilter builds a filter from the default English list plus
// extra words. An extra word mapped to "" is masked with one asterisk per
// character. Words made of ASCII letters match whole words (with an optional
// plural "s"); any other word, such as Hangul, matches anywhere in the text
// since Korean attaches particles directly to the word.
func NewProfanityFilter(extra map[string]string) *ProfanityFilter {
	pf := &ProfanityFilter{}
	for _, d := range defaultReplacements {
		pf.rules = append(pf.rules, newRule(d.word, d.replacement))
	}

	words := make([]string, 0, len(extra))
	for w := range extra {
		if strings.TrimSpace(w) != "" {
			words = append(words, w)
		}
	}
	// Longest first so a word is not pre-empted by one of its substrings.
	sort.Slice(words, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(words[i]), utf8.RuneCountInString(words[j])
		if li != lj {
			return li > lj
		}
		return words[i] < words[j]
	})
	for _, w := range words {
		pf.rules = append(pf.rules, newRule(strings.TrimSpace(w), extra[w]))
	}
	return pf
}

func newRule(word, replacement string) rule {
	if isASCIIWord(word) {
		return rule{
			re:          regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(word) + `(s?)\b`),
			replacement: replacement,
			wordBounded: true,
		}
	}
	return rule{
		re:          regexp.MustCompile(`(?i)` + regexp.QuoteMeta(word)),
		replacement: replacement,
	}
}

func isASCIIWord(word string) bool {
	for _, r := range word {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || r == ' ' || r == '-') {
			return false
		}
	}
	return word != ""
}

// FilterText replaces profanity in the input text
func (pf *ProfanityFilter) FilterText(text string) string {
	result := text
	for _, r := range pf.rules {
		result = r.re.ReplaceAllStringFunc(result, func(match string) string {
			if r.replacement == "" {
				return strings.Repeat("*", utf8.RuneCountInString(match))
			}
			if !r.wordBounded {
				return r.replacement
			}
			base, plural := splitPlural(r.re, match)
			return preserveCase(base, r.replacement) + plural
		})
	}
	return result
}

// splitPlural separates the optional trailing "s" captured by a word rule.
func splitPlural(re *regexp.Regexp, match string) (string, string) {
	sub := re.FindStringSubmatch(match)
	if len(sub) < 2 || sub[1] == "" {
		return match, ""
	}
	return match[:len(match)-len(sub[1])], sub[1]
}

// preserveCase applies the case pattern of the original word to the replacement
func preserveCase(original, replacement string) string {
	if len(original) == 0 {
		return replacement
	}

	if strings.ToUpper(original) == original {
		return strings.ToUpper(replacement)
	}

	if strings.ToLower(original) == original {
		return strings.ToLower(replacement)
	}

	// Title case (first letter uppercase, rest lowercase)
	titleCaser := cases.Title(language.English)
	if titleCaser.String(strings.ToLower(original)) == original {
		return titleCaser.String(replacement)
	}

	// Mixed case: copy the pattern character by character
	originalRunes := []rune(original)
	result := []rune(replacement)
	for i := range result {
		if i < len(originalRunes) && unicode.IsUpper(originalRunes[i]) {
			result[i] = unicode.ToUpper(result[i])
		} else {
			result[i] = unicode.ToLower(result[i])
		}
	}

	return string(result)
}

// ContainsProfanity checks if the text contains any filtered word
func (pf *ProfanityFilter) ContainsProfanity(text string) bool {
	for _, r := range pf.rules {
		if r.re.MatchString(text) {
			return true
		}
	}
	return false
}

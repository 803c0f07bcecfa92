package messages

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/KockaAdmiralac/kockalogger/internal/util"
)

var genderRegex = regexp.MustCompile(`\{\{GENDER:([^|}]*)\|([^}]*)\}\}`)

// expandGender replaces every {{GENDER:arg|a|b|c}} block with an opaque
// sentinel and returns the regex alternations to reinstate afterwards. The
// sentinel is a NUL-framed index, which escapeRegex passes through
// untouched, so the alternation's own metacharacters never get escaped.
func expandGender(raw string) (string, []string) {
	var alts []string
	out := genderRegex.ReplaceAllStringFunc(raw, func(m string) string {
		sm := genderRegex.FindStringSubmatch(m)
		opts := strings.Split(sm[2], "|")
		// MediaWiki repeats a form for the unknown gender; drop the
		// redundant third option.
		if len(opts) == 3 && (opts[2] == opts[0] || opts[2] == opts[1]) {
			opts = opts[:2]
		}
		escaped := make([]string, len(opts))
		for i, o := range opts {
			escaped[i] = util.EscapeRegex(o)
		}
		alts = append(alts, "(?:"+strings.Join(escaped, "|")+")")
		return fmt.Sprintf("\x00%d\x00", len(alts)-1)
	})
	return out, alts
}

// reinstateGender swaps the sentinels back for their alternations once
// escaping and placeholder substitution are done.
func reinstateGender(src string, alts []string) string {
	for i, alt := range alts {
		src = strings.Replace(src, fmt.Sprintf("\x00%d\x00", i), alt, 1)
	}
	return src
}

// Package messages turns raw MediaWiki system messages into the regular
// expressions that recover structured log fields from localized summaries.
// Each recognized message name has a rule describing what its $N
// placeholders capture; the compiled sources stay positionally aligned with
// the raw templates so captures can be renumbered against the template's
// placeholder order.
package messages

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/KockaAdmiralac/kockalogger/internal/util"
)

const (
	// linkPattern captures a page title inside a [[...]] wikilink.
	linkPattern = `([^\x03]+?)`
	// userPattern captures a user name inside a wikilink, stripping the
	// localized namespace prefix.
	userPattern = `[^:]+:([^\x03]+)`
	// freePattern captures free text up to whatever follows it.
	freePattern = `(.*?)`
	// numberPattern captures a revision id.
	numberPattern = `(\d+)`
	// flagsPattern captures an optional parenthesized block flag list.
	// Fullwidth parentheses appear in some locales.
	flagsPattern = `(?:[(（]([^)）]*)[)）])?`
	// protectBlob captures the protection-level triples MediaWiki appends
	// after protect summaries: repeated ‎[feature=level] (expiry) groups.
	protectBlob = `((?: ?\x{200E}?\[(?:edit|move|upload|create|comment|everything)=\w+\] \([^\x{200E}]*\))*)`
	// reasonSuffix captures the optional trailing log reason.
	reasonSuffix = `(?:\s?[:：]\s?(.*))?`
)

// sub substitutes one $N placeholder with a capture pattern. eatSpace also
// folds the preceding template space into an optional \s? so the pattern may
// match nothing at all (block flags are absent more often than not).
type sub struct {
	n        int
	pattern  string
	eatSpace bool
}

// rule describes how one message name becomes a regex: ordered placeholder
// substitutions, an optional appendix before the reason group, and whether
// the trailing reason group is suppressed (bare literal messages).
type rule struct {
	subs     []sub
	appendix string
	bare     bool
}

var rules = map[string]rule{
	"blocklogentry": {subs: []sub{
		{n: 1, pattern: userPattern},
		{n: 2, pattern: freePattern},
		{n: 3, pattern: flagsPattern, eatSpace: true},
	}},
	"reblock-logentry": {subs: []sub{
		{n: 1, pattern: userPattern},
		{n: 2, pattern: freePattern},
		{n: 3, pattern: flagsPattern, eatSpace: true},
	}},
	"unblocklogentry": {subs: []sub{
		{n: 1, pattern: userPattern},
	}},
	"protectedarticle": {subs: []sub{
		{n: 1, pattern: linkPattern},
	}, appendix: protectBlob},
	"modifiedarticleprotection": {subs: []sub{
		{n: 1, pattern: linkPattern},
	}, appendix: protectBlob},
	"unprotectedarticle": {subs: []sub{
		{n: 1, pattern: linkPattern},
	}},
	"movedarticleprotection": {subs: []sub{
		{n: 1, pattern: linkPattern},
		{n: 2, pattern: linkPattern},
	}},
	"rightslogentry": {subs: []sub{
		{n: 1, pattern: `(?:[^:]+:)?(.*?)`},
		{n: 2, pattern: freePattern},
		{n: 3, pattern: freePattern},
	}},
	"deletedarticle": {subs: []sub{
		{n: 1, pattern: linkPattern},
	}},
	"undeletedarticle": {subs: []sub{
		{n: 1, pattern: linkPattern},
	}},
	"logentry-delete-revision-legacy": {subs: []sub{
		{n: 1, pattern: freePattern},
		{n: 3, pattern: linkPattern},
	}},
	"logentry-delete-event-legacy": {subs: []sub{
		{n: 1, pattern: freePattern},
		{n: 3, pattern: linkPattern},
	}},
	"uploadedimage": {subs: []sub{
		{n: 1, pattern: linkPattern},
	}},
	"overwroteimage": {subs: []sub{
		{n: 1, pattern: linkPattern},
	}},
	"1movedto2": {subs: []sub{
		{n: 1, pattern: linkPattern},
		{n: 2, pattern: linkPattern},
	}},
	"1movedto2_redir": {subs: []sub{
		{n: 1, pattern: linkPattern},
		{n: 2, pattern: linkPattern},
	}},
	"patrol-log-line": {subs: []sub{
		{n: 1, pattern: numberPattern},
		{n: 2, pattern: linkPattern},
		{n: 3, pattern: freePattern, eatSpace: true},
	}},
	"chat-chatbanadd-log-entry": {subs: []sub{
		{n: 1, pattern: freePattern},
		{n: 2, pattern: freePattern},
		{n: 3, pattern: freePattern},
	}},
	"chat-chatbanchange-log-entry": {subs: []sub{
		{n: 1, pattern: freePattern},
		{n: 2, pattern: freePattern},
		{n: 3, pattern: freePattern},
	}},
	"chat-chatbanremove-log-entry": {subs: []sub{
		{n: 1, pattern: freePattern},
	}},
	"blog-avatar-removed-log": {subs: []sub{
		{n: 1, pattern: freePattern},
	}},
	"autosumm-replace": {subs: []sub{
		{n: 1, pattern: freePattern},
	}},

	// Block flag words are matched whole against single comma-split tokens.
	"block-log-flags-angry-autoblock": {bare: true},
	"block-log-flags-anononly":        {bare: true},
	"block-log-flags-hiddenname":      {bare: true},
	"block-log-flags-noautoblock":     {bare: true},
	"block-log-flags-nocreate":        {bare: true},
	"block-log-flags-noemail":         {bare: true},
	"block-log-flags-nousertalk":      {bare: true},
}

// BlockFlags are the recognized block option keys; flag N is matched via the
// block-log-flags-<flag> message regexes.
var BlockFlags = []string{
	"angry-autoblock",
	"anononly",
	"hiddenname",
	"noautoblock",
	"nocreate",
	"noemail",
	"nousertalk",
}

// Known lists every message name the loader requests from allmessages, in
// request order. patrol-log-diff is folded into patrol-log-line and
// autosumm-blank is kept raw for literal containment checks; neither has a
// rule.
func Known() []string {
	names := []string{
		"blocklogentry",
		"unblocklogentry",
		"reblock-logentry",
		"protectedarticle",
		"modifiedarticleprotection",
		"unprotectedarticle",
		"movedarticleprotection",
		"rightslogentry",
		"deletedarticle",
		"undeletedarticle",
		"logentry-delete-revision-legacy",
		"logentry-delete-event-legacy",
		"uploadedimage",
		"overwroteimage",
		"1movedto2",
		"1movedto2_redir",
		"patrol-log-line",
		"patrol-log-diff",
		"chat-chatbanadd-log-entry",
		"chat-chatbanchange-log-entry",
		"chat-chatbanremove-log-entry",
		"blog-avatar-removed-log",
		"autosumm-replace",
		"autosumm-blank",
	}
	for _, flag := range BlockFlags {
		names = append(names, "block-log-flags-"+flag)
	}
	return names
}

// Transformable reports whether name has a transform rule and therefore a
// compiled regex in the i18n cache.
func Transformable(name string) bool {
	_, ok := rules[name]
	return ok
}

// Source builds the regex source for one raw localized message. The second
// return is false when the name has no rule.
func Source(name, raw string) (string, bool) {
	r, ok := rules[name]
	if !ok {
		return "", false
	}

	expanded, alts := expandGender(raw)
	s := util.EscapeRegex(expanded)

	for _, sb := range r.subs {
		placeholder := `\$` + strconv.Itoa(sb.n)
		if sb.eatSpace && strings.Contains(s, " "+placeholder) {
			s = strings.ReplaceAll(s, " "+placeholder, `\s?`+sb.pattern)
		} else {
			s = strings.ReplaceAll(s, placeholder, sb.pattern)
		}
	}

	// Wikilinks in the feed may carry IRC link coloring.
	s = strings.ReplaceAll(s, `\[\[`, `\[\[(?:\x0302)?`)
	s = strings.ReplaceAll(s, `\]\]`, `(?:\x0310)?\]\]`)

	s += r.appendix
	if r.bare {
		s = "^" + s + "$"
	} else {
		s = "^" + s + reasonSuffix + "$"
	}
	return reinstateGender(s, alts), true
}

// Compile builds the matching regex for one raw localized message.
func Compile(name, raw string) (*regexp.Regexp, error) {
	src, ok := Source(name, raw)
	if !ok {
		return nil, nil
	}
	return regexp.Compile(src)
}

var placeholderRegex = regexp.MustCompile(`\$(\d+)`)

// PlaceholderOrder returns the $N values of a raw template in textual order,
// skipping GENDER arguments ({{GENDER:$2|...}} selects a form, it does not
// consume a capture). Templates may reorder placeholders against the
// locale's reading order; this sequence drives capture renumbering.
func PlaceholderOrder(raw string) []int {
	idx := placeholderRegex.FindAllStringSubmatchIndex(raw, -1)
	order := make([]int, 0, len(idx))
	for _, m := range idx {
		start := m[0]
		if start >= len("GENDER:") && raw[start-len("GENDER:"):start] == "GENDER:" {
			continue
		}
		n, err := strconv.Atoi(raw[m[2]:m[3]])
		if err != nil || n == 0 {
			continue
		}
		order = append(order, n)
	}
	return order
}

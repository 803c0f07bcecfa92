package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/KockaAdmiralac/kockalogger/internal/messages"
	"github.com/KockaAdmiralac/kockalogger/internal/models"
)

// logActions maps a log family and feed action to the system message that
// renders its summary. restore aliases move per MediaWiki's pre-1.19 logs.
var logActions = map[string]map[string]string{
	"block": {
		"block":   "blocklogentry",
		"unblock": "unblocklogentry",
		"reblock": "reblock-logentry",
	},
	"delete": {
		"delete":   "deletedarticle",
		"restore":  "undeletedarticle",
		"revision": "logentry-delete-revision-legacy",
		"event":    "logentry-delete-event-legacy",
	},
	"move": {
		"move":       "1movedto2",
		"move_redir": "1movedto2_redir",
		"restore":    "1movedto2",
	},
	"protect": {
		"protect":   "protectedarticle",
		"modify":    "modifiedarticleprotection",
		"unprotect": "unprotectedarticle",
		"move_prot": "movedarticleprotection",
	},
	"rights": {"rights": "rightslogentry"},
	"upload": {
		"upload":    "uploadedimage",
		"overwrite": "overwroteimage",
	},
	"patrol": {"patrol": "patrol-log-line"},
	"chatban": {
		"chatbanadd":    "chat-chatbanadd-log-entry",
		"chatbanchange": "chat-chatbanchange-log-entry",
		"chatbanremove": "chat-chatbanremove-log-entry",
	},
	"useravatar": {"avatar_rem": "blog-avatar-removed-log"},
}

var (
	// abuseFilterRegex picks the filter id and diff revision out of the
	// trailing wikilinks of an AbuseFilter modification summary.
	abuseFilterRegex = regexp.MustCompile(
		`AbuseFilter/(\d+)(?:\|[^\]]*)?\]\].*AbuseFilter/history/\d+/diff/prev/(\d+)`)

	// wikiFeaturesRegex matches the fixed wikifeatures summary shape.
	wikiFeaturesRegex = regexp.MustCompile(
		`^wikifeatures\s?[:：]\s?set extension option\s?[:：]\s?(\w+) = (true|false)$`)

	// protectLevelRegex extracts one ‎[feature=level] (expiry) triple from a
	// protection summary blob.
	protectLevelRegex = regexp.MustCompile(
		` ?\x{200E}\[(edit|move|upload|create|comment|everything)=(\w+)\] \(([^\x{200E}]+)\)`)

	// protectSiteRegex splits a ProtectSite summary into its prefix, the
	// duration and the optional reason, so the trailing part can be rewritten
	// into the standard [everything=restricted] form.
	protectSiteRegex = regexp.MustCompile(
		`^(.*[:：]Allpages\]\]"?)\s?[:：]?\s?(.+?)(?:\s?[:：]\s?(.*))?$`)
)

// extractLog runs the family-specific field extraction for a log message,
// promoting it to an error variant when the summary cannot be decoded.
func (p *Parser) extractLog(msg *models.Message) {
	switch msg.Log {
	case "0":
		// Fandom emits logtype 0 with an empty URL when a thread closes; the
		// dispatcher fills the real fields in via thread-log enrichment.
		return
	case "thread", "newusers":
		return
	case "abusefilter":
		p.extractAbuseFilter(msg)
		return
	case "wikifeatures":
		p.extractWikiFeatures(msg)
		return
	}

	actions, ok := logActions[msg.Log]
	if !ok {
		return
	}
	name, ok := actions[msg.Action]
	if !ok {
		msg.Promote(models.CodeLogActionUnknown, "no message mapped for action", map[string]any{
			"log":    msg.Log,
			"action": msg.Action,
		})
		return
	}

	ret, ok := p.matchSummary(msg, name, msg.Summary)
	if !ok {
		if msg.Log == "protect" && p.retryProtectSite(msg, name) {
			return
		}
		msg.Promote(models.CodeLogParseFail, "summary matched no cached regex", map[string]any{
			"message": name,
		})
		return
	}
	p.extractFamily(msg, ret)
}

func (p *Parser) extractFamily(msg *models.Message, ret []string) {
	switch msg.Log {
	case "block":
		p.extractBlock(msg, ret)
	case "delete":
		p.extractDelete(msg, ret)
	case "move":
		msg.Page = field(ret, 0)
		msg.Target = field(ret, 1)
		msg.Reason = field(ret, 2)
	case "patrol":
		msg.Revision, _ = strconv.Atoi(field(ret, 0))
		msg.Page = field(ret, 1)
	case "protect":
		p.extractProtect(msg, ret)
	case "rights":
		p.extractRights(msg, ret)
	case "upload":
		msg.File = field(ret, 0)
		msg.Reason = field(ret, 1)
	case "useravatar":
		msg.Target = field(ret, 0)
	case "chatban":
		p.extractChatban(msg, ret)
	}
}

func (p *Parser) extractBlock(msg *models.Message, ret []string) {
	msg.Target = field(ret, 0)
	if msg.Action == "unblock" {
		msg.Reason = field(ret, 1)
		return
	}
	msg.Expiry = field(ret, 1)
	msg.BlockFlags = p.matchBlockFlags(field(ret, 2))
	msg.Reason = field(ret, 3)
}

// matchBlockFlags resolves the localized comma-split flag words against the
// block-log-flags-* message regexes. Unrecognized words stay as "unknown".
func (p *Parser) matchBlockFlags(raw string) []string {
	if raw == "" {
		return nil
	}
	var flags []string
	for _, word := range strings.Split(raw, ",") {
		word = strings.TrimSpace(word)
		if word == "" {
			continue
		}
		flags = append(flags, p.matchBlockFlag(word))
	}
	return flags
}

func (p *Parser) matchBlockFlag(word string) string {
	for _, flag := range messages.BlockFlags {
		for _, re := range p.cache.Regexes("block-log-flags-" + flag) {
			if re.MatchString(word) {
				return flag
			}
		}
	}
	return "unknown"
}

func (p *Parser) extractDelete(msg *models.Message, ret []string) {
	if msg.Action == "revision" || msg.Action == "event" {
		msg.Target = field(ret, 2)
		msg.Reason = field(ret, 3)
		return
	}
	msg.Page = field(ret, 0)
	msg.Reason = field(ret, 1)
}

func (p *Parser) extractProtect(msg *models.Message, ret []string) {
	msg.Page = field(ret, 0)
	switch msg.Action {
	case "move_prot":
		msg.Target = field(ret, 1)
		msg.Reason = field(ret, 2)
	case "unprotect":
		msg.Reason = field(ret, 1)
	default:
		msg.Levels = parseProtectionLevels(field(ret, 1))
		msg.Reason = field(ret, 2)
	}
}

// parseProtectionLevels decodes the repeated ‎[feature=level] (expiry)
// triples MediaWiki appends to protection summaries.
func parseProtectionLevels(blob string) []models.ProtectionLevel {
	matches := protectLevelRegex.FindAllStringSubmatch(blob, -1)
	levels := make([]models.ProtectionLevel, 0, len(matches))
	for _, m := range matches {
		levels = append(levels, models.ProtectionLevel{
			Feature: m[1],
			Level:   m[2],
			Expiry:  m[3],
		})
	}
	return levels
}

// retryProtectSite handles the ProtectSite extension's non-standard summary:
// site-wide protection renders "<page>" <duration>: <reason> without a level
// blob. Rewrite the tail into the standard form and retry the i18n match
// once.
func (p *Parser) retryProtectSite(msg *models.Message, name string) bool {
	if !strings.Contains(msg.Summary, ":Allpages") {
		return false
	}
	m := protectSiteRegex.FindStringSubmatch(msg.Summary)
	if m == nil {
		return false
	}
	rewritten := m[1] + " ‎[everything=restricted] (" + m[2] + ")"
	if m[3] != "" {
		rewritten += ": " + m[3]
	}
	ret, ok := p.matchSummary(msg, name, rewritten)
	if !ok {
		return false
	}
	p.extractFamily(msg, ret)
	return true
}

func (p *Parser) extractRights(msg *models.Message, ret []string) {
	msg.Target = field(ret, 0)
	msg.OldGroups = splitGroups(field(ret, 1))
	msg.NewGroups = splitGroups(field(ret, 2))
	if len(msg.OldGroups) == 0 || len(msg.NewGroups) == 0 {
		msg.Promote(models.CodeMissingGroups, "rights change with empty group list", map[string]any{
			"old": field(ret, 1),
			"new": field(ret, 2),
		})
		return
	}
	msg.Reason = field(ret, 3)
}

func splitGroups(raw string) []string {
	var groups []string
	for _, group := range strings.Split(raw, ",") {
		if group = strings.TrimSpace(group); group != "" {
			groups = append(groups, group)
		}
	}
	return groups
}

func (p *Parser) extractChatban(msg *models.Message, ret []string) {
	msg.Target = field(ret, 0)
	if msg.Action == "chatbanremove" {
		msg.Reason = field(ret, 1)
		return
	}
	msg.Length = field(ret, 1)
	msg.Expires = field(ret, 2)
	msg.Reason = field(ret, 3)
}

func (p *Parser) extractAbuseFilter(msg *models.Message) {
	m := abuseFilterRegex.FindStringSubmatch(msg.Summary)
	if m == nil {
		msg.Promote(models.CodeAbuseFilterParse, "filter links did not parse", nil)
		return
	}
	msg.FilterID, _ = strconv.Atoi(m[1])
	msg.Diff, _ = strconv.Atoi(m[2])
}

func (p *Parser) extractWikiFeatures(msg *models.Message) {
	m := wikiFeaturesRegex.FindStringSubmatch(msg.Summary)
	if m == nil {
		msg.Promote(models.CodeWikiFeaturesError, "wikifeatures summary did not parse", nil)
		return
	}
	msg.Feature = m[1]
	msg.Value = m[2] == "true"
}

// matchSummary runs the summary against the ordered regex list of one
// message name, override first, and renumbers the captures against the
// matching template's $N placeholder order. Templates may reorder
// placeholders against the locale's reading order; the returned slice is
// positional: ret[N-1] holds the text captured for $N, with any trailing
// captures beyond the highest placeholder appended after.
func (p *Parser) matchSummary(msg *models.Message, name, summary string) ([]string, bool) {
	for _, matcher := range p.cache.Matchers(msg.OverrideKey(), name) {
		res := matcher.Regex.FindStringSubmatch(summary)
		if res == nil {
			continue
		}
		return renumber(res, matcher.Template), true
	}
	return nil, false
}

func renumber(res []string, template string) []string {
	order := messages.PlaceholderOrder(template)
	captures := len(res) - 1

	maxN := 0
	for _, n := range order {
		if n > maxN {
			maxN = n
		}
	}
	trailing := captures - len(order)
	if trailing < 0 {
		trailing = 0
	}

	ret := make([]string, maxN+trailing)
	for j, n := range order {
		if j+1 <= captures {
			ret[n-1] = res[j+1]
		}
	}
	for i := 0; i < trailing; i++ {
		ret[maxN+i] = res[len(order)+1+i]
	}
	return ret
}

func field(ret []string, i int) string {
	if i < len(ret) {
		return ret[i]
	}
	return ""
}

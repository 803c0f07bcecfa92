// Package parser turns raw feed lines into typed Messages: the two RC
// grammars (edit and log), the Discussions JSON grammar and the newusers
// line, plus the i18n summary matching that recovers structured log fields.
package parser

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/KockaAdmiralac/kockalogger/internal/loader"
	"github.com/KockaAdmiralac/kockalogger/internal/models"
	"github.com/KockaAdmiralac/kockalogger/internal/util"
)

// domainPattern matches the wiki farm domains the feed reports.
const domainPattern = `fandom\.com|wikia\.com|wikia\.org|gamepedia\.com|gamepedia\.io|fandom-dev\.[a-z]+`

var (
	// editRegex matches one RC edit line. The URL blob may contain a second
	// color-prefixed URL when the page link and the diff link are glued
	// together, so it admits embedded \x0302 markers and is resolved by
	// editURLRegex afterwards.
	editRegex = regexp.MustCompile(
		`^\x0314\[\[\x0307([^\x03]*)\x0314\]\]\x034 ([!NBM]*)\x0310 ` +
			`\x0302((?:\x0302|[^\x03])*?)\x03 \x035\*\x03 ` +
			`\x0303([^\x03]*)\x03 \x035\*\x03 ` +
			`\((\x02?[+-]\d+\x02?)\) \x0310([^\x03]*)`)

	// editURLRegex picks the index.php URL off the end of the edit URL blob.
	editURLRegex = regexp.MustCompile(
		`https?://([^./]+)\.(` + domainPattern + `)/(?:([a-z-]+)/)?index\.php\?(\S*)$`)

	// logRegex matches one RC log line: [[<ns>:Log/<type>]] with a
	// language-independent log type token.
	logRegex = regexp.MustCompile(
		`^\x0314\[\[\x0307([^\x03:]*):[^\x03/]*/([^\x03]*)\x0314\]\]\x034 ([^\x03]*)\x0310 ` +
			`\x0302([^\x03]*)\x03 \x035\*\x03 ` +
			`\x0303([^\x03]*)\x03 \x035\*\x03\s{1,2}\x0310([\s\S]*)$`)

	// logURLRegex resolves the wiki coordinates from a log line's URL. The
	// optional language segment sits before the /wiki/ path.
	logURLRegex = regexp.MustCompile(
		`^https?://([^./]+)\.(` + domainPattern + `)(?:/([a-z-]+))?(?:/wiki/\S*|/)?$`)

	// newusersRegex matches one line of the newusers feed.
	newusersRegex = regexp.MustCompile(
		`^(.*) New user registration https?://([^./]+)\.(` + domainPattern + `)(?:/([a-z-]+))?/? newusers$`)

	// discussionsURLRegex matches a Discussions post URL with its 19-digit
	// thread and optional reply identifiers.
	discussionsURLRegex = regexp.MustCompile(
		`^https?://([^./]+)\.(` + domainPattern + `)/(?:([a-z-]+)/)?f/p/(\d{19})(?:/r/(\d{19}))?$`)

	// commentURLRegex matches an article-comment or message-wall URL, where
	// the post lives under a wiki page instead of the Discussions space.
	commentURLRegex = regexp.MustCompile(
		`^https?://([^./]+)\.(` + domainPattern + `)/(?:([a-z-]+)/)?wiki/([^?#]+)` +
			`(?:\?commentId=(\d{19})(?:&replyId=(\d{19}))?)?$`)
)

// Parser decodes raw lines into Messages, consulting the message cache for
// log summary extraction.
type Parser struct {
	cache  *loader.Cache
	logger zerolog.Logger
}

// New creates a parser reading the given message cache.
func New(cache *loader.Cache, logger zerolog.Logger) *Parser {
	return &Parser{
		cache:  cache,
		logger: logger.With().Str("component", "parser").Logger(),
	}
}

// Parse decodes one complete line from the named channel.
func (p *Parser) Parse(raw string, channel models.Channel) *models.Message {
	switch channel {
	case models.ChannelRC:
		return p.parseRC(raw)
	case models.ChannelDiscussions:
		return p.parseDiscussions(raw)
	case models.ChannelNewusers:
		return p.parseNewusers(raw)
	default:
		return models.ErrorMessage(raw, models.CodeUnknownType, "unknown channel", map[string]any{
			"channel": string(channel),
		})
	}
}

func (p *Parser) parseRC(raw string) *models.Message {
	if m := editRegex.FindStringSubmatch(raw); m != nil {
		return p.parseEdit(raw, m)
	}
	if m := logRegex.FindStringSubmatch(raw); m != nil {
		return p.parseLog(raw, m)
	}
	return models.ErrorMessage(raw, models.CodeRCError, "line matches neither RC grammar", nil)
}

func (p *Parser) parseEdit(raw string, m []string) *models.Message {
	urlMatch := editURLRegex.FindStringSubmatch(m[3])
	if urlMatch == nil {
		return models.ErrorMessage(raw, models.CodeRCError, "edit URL did not parse", map[string]any{
			"url": m[3],
		})
	}

	msg := &models.Message{
		Type:     models.TypeEdit,
		Raw:      raw,
		Page:     m[1],
		Wiki:     urlMatch[1],
		Domain:   urlMatch[2],
		Language: language(urlMatch[3]),
		User:     m[4],
		Summary:  m[6],
	}
	msg.Flags = splitFlags(m[2])
	msg.Params = parseQuery(urlMatch[4])

	diff := strings.Trim(m[5], "\x02")
	value, err := strconv.Atoi(diff[1:])
	if err != nil {
		return msg.Promote(models.CodeRCError, "size delta did not parse", map[string]any{
			"diff": m[5],
		})
	}
	if diff[0] == '-' {
		value = -value
	}
	msg.Diff = value
	return msg
}

func (p *Parser) parseLog(raw string, m []string) *models.Message {
	msg := &models.Message{
		Type:     models.TypeLog,
		Raw:      raw,
		Domain:   models.DefaultDomain,
		Language: models.DefaultLanguage,
		Log:      m[2],
		Action:   m[3],
		User:     m[5],
		Summary:  m[6],
	}
	// A closed thread produces an empty log URL and logtype 0; the wiki
	// coordinates arrive later via thread-log enrichment.
	if m[4] != "" {
		urlMatch := logURLRegex.FindStringSubmatch(m[4])
		if urlMatch == nil {
			return msg.Promote(models.CodeRCError, "log URL did not parse", map[string]any{
				"url": m[4],
			})
		}
		msg.Wiki = urlMatch[1]
		msg.Domain = urlMatch[2]
		msg.Language = language(urlMatch[3])
	}
	p.extractLog(msg)
	return msg
}

func (p *Parser) parseNewusers(raw string) *models.Message {
	m := newusersRegex.FindStringSubmatch(raw)
	if m == nil {
		return models.ErrorMessage(raw, models.CodeNewusersError, "malformed newusers line", nil)
	}
	return &models.Message{
		Type:     models.TypeLog,
		Raw:      raw,
		Log:      "newusers",
		Action:   "newusers",
		User:     m[1],
		Wiki:     m[2],
		Domain:   m[3],
		Language: language(m[4]),
	}
}

// discussionsEvent is the JSON shape of one Discussions feed entry.
type discussionsEvent struct {
	Type     string `json:"type"`
	Action   string `json:"action"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	Size     int    `json:"size"`
	Category string `json:"category"`
	UserName string `json:"userName"`
}

var discussionsDTypes = []string{"thread", "post", "reply", "report"}

func (p *Parser) parseDiscussions(raw string) *models.Message {
	var event discussionsEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return models.ErrorMessage(raw, models.CodeDiscussionsJSON, err.Error(), nil)
	}

	platform, dtype := splitDiscussionsType(event.Type)
	if dtype == "" {
		return models.ErrorMessage(raw, models.CodeDiscussionsType, "unrecognized event type", map[string]any{
			"eventType": event.Type,
		})
	}

	msg := &models.Message{
		Type:     models.TypeDiscussions,
		Raw:      raw,
		Platform: platform,
		DType:    dtype,
		Action:   event.Action,
		Title:    event.Title,
		Snippet:  event.Snippet,
		Size:     event.Size,
		Category: event.Category,
		User:     event.UserName,
		URL:      event.URL,
	}

	if platform == "discussion" {
		m := discussionsURLRegex.FindStringSubmatch(event.URL)
		if m == nil {
			return msg.Promote(models.CodeDiscussionsURL, "post URL did not parse", map[string]any{
				"url": event.URL,
			})
		}
		msg.Wiki = m[1]
		msg.Domain = m[2]
		msg.Language = language(m[3])
		msg.Thread = m[4]
		msg.Reply = m[5]
		return msg
	}

	m := commentURLRegex.FindStringSubmatch(event.URL)
	if m == nil {
		return msg.Promote(models.CodeDiscussionsURL2, "comment URL did not parse", map[string]any{
			"url": event.URL,
		})
	}
	msg.Wiki = m[1]
	msg.Domain = m[2]
	msg.Language = language(m[3])
	msg.Thread = m[5]
	msg.Reply = m[6]
	page, err := util.Decode(m[4])
	if err != nil {
		page = m[4]
	}
	msg.Page = page
	return msg
}

// splitDiscussionsType splits "message-wall-reply" into its platform and
// known dtype suffix. Unknown suffix or platform yields an empty dtype.
func splitDiscussionsType(eventType string) (string, string) {
	for _, dtype := range discussionsDTypes {
		platform, found := strings.CutSuffix(eventType, "-"+dtype)
		if !found {
			continue
		}
		switch platform {
		case "discussion", "article-comment", "message-wall":
			return platform, dtype
		}
	}
	return "", ""
}

// language maps an empty URL language capture to the default.
func language(captured string) string {
	if captured == "" {
		return models.DefaultLanguage
	}
	return captured
}

func splitFlags(flags string) []string {
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		out = append(out, string(f))
	}
	return out
}

// parseQuery decodes an index.php query string into its integer parameters.
// Only numeric values survive; diff and oldid are the ones used downstream.
func parseQuery(query string) map[string]int {
	params := make(map[string]int)
	for _, pair := range strings.Split(query, "&") {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		if n, err := strconv.Atoi(value); err == nil {
			params[key] = n
		}
	}
	return params
}

// Package util holds the small pure helpers shared across the pipeline:
// wiki URL building, MediaWiki-flavored URL encoding, regex and markdown
// escaping, HTML entity decoding and IP classification.
package util

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

// URL builds the base URL of a wiki. English wikis live at the bare
// subdomain; other languages get a path segment.
func URL(wiki, language, domain string) string {
	if language == "" || language == "en" {
		return fmt.Sprintf("https://%s.%s", wiki, domain)
	}
	return fmt.Sprintf("https://%s.%s/%s", wiki, domain, language)
}

// Encode percent-encodes a page title the way MediaWiki does in URLs:
// RFC 3986 with !'()*~ kept raw, spaces as underscores, and : and /
// left alone so subpages and namespaces stay readable.
func Encode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '-', c == '.', c == '_', c == '~',
			c == '!', c == '\'', c == '(', c == ')', c == '*',
			c == ':', c == '/':
			b.WriteByte(c)
		case c == ' ':
			b.WriteByte('_')
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

var decodeReplacer = strings.NewReplacer(
	"_", "%20",
	":", "%3A",
	"/", "%2F",
)

// Decode is the inverse of Encode: underscores become spaces again and the
// remaining percent escapes are resolved.
func Decode(s string) (string, error) {
	return url.PathUnescape(decodeReplacer.Replace(s))
}

var regexEscaper = strings.NewReplacer(
	`\`, `\\`,
	`-`, `\-`,
	`/`, `\/`,
	`^`, `\^`,
	`$`, `\$`,
	`*`, `\*`,
	`+`, `\+`,
	`?`, `\?`,
	`.`, `\.`,
	`(`, `\(`,
	`)`, `\)`,
	`|`, `\|`,
	`[`, `\[`,
	`]`, `\]`,
	`{`, `\{`,
	`}`, `\}`,
)

// EscapeRegex backslash-escapes the characters that are meaningful inside a
// regular expression. The escaped set is wider than regexp.QuoteMeta's; the
// message transforms rely on - and / being escaped too.
func EscapeRegex(s string) string {
	return regexEscaper.Replace(s)
}

var markdownEscaper = strings.NewReplacer(
	"discord.gg", "discord​.gg",
	"@", "@​",
	"https://", "https:/​/",
	"http://", "http:/​/",
	"\r", "",
	"\n", "",
	`\`, `\\`,
	"*", `\*`,
	"_", `\_`,
	"~", `\~`,
	"|", `\|`,
	"`", "\\`",
	">", `\>`,
)

// EscapeMarkdown neutralizes user-controlled text before it is relayed to a
// chat sink: links and mentions get zero-width-space breakups, newlines are
// stripped and markdown tokens are escaped.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

var htmlDecoder = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#039;", "'",
	"&#10;", "\n",
)

// DecodeHTML resolves the entity set MediaWiki emits in thread metadata.
// Single pass, so &amp;lt; decodes to &lt; and no further.
func DecodeHTML(s string) string {
	return htmlDecoder.Replace(s)
}

// IsIP reports whether s is a literal IPv4 or IPv6 address.
func IsIP(s string) bool {
	_, err := netip.ParseAddr(s)
	return err == nil
}

// IsIPRange reports whether s is a CIDR range MediaWiki would accept as a
// block target: no wider than /16 for IPv4 and /19 for IPv6.
func IsIPRange(s string) bool {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return false
	}
	if p.Addr().Is4() {
		return p.Bits() >= 16
	}
	return p.Bits() >= 19
}

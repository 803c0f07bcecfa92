// Package mediawiki is the outbound HTTP side of the pipeline: one client
// shared by the message-cache loader, the override fetcher and dispatcher
// enrichment, all speaking action=query against Fandom wikis.
package mediawiki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/KockaAdmiralac/kockalogger/internal/metrics"
	"github.com/KockaAdmiralac/kockalogger/internal/util"
)

const (
	product     = "KockaLogger"
	version     = "1.4.0"
	description = "Fandom activity relay"

	// CommunityWiki hosts the canonical language list and message defaults.
	CommunityWiki   = "community"
	communityDomain = "fandom.com"

	// maxResponseBytes caps API response bodies; allmessages for a full
	// language fits well under this.
	maxResponseBytes = 4 << 20

	// HTTP fan-out is capped at 10 in-flight requests pipeline-wide.
	requestsPerSecond = 10
)

// ErrNotJSON marks a response body that failed to parse as JSON, usually a
// captive HTML error page in front of the API.
var ErrNotJSON = errors.New("response is not JSON")

// ErrMissingTitle marks an info query whose response carried no page title.
var ErrMissingTitle = errors.New("no title in response")

// Client queries the MediaWiki API of Fandom wikis.
type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
	logger    zerolog.Logger
}

// NewClient creates an API client. httpClient may be nil for defaults; tests
// inject one with a fake RoundTripper.
func NewClient(logger zerolog.Logger, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		http:      httpClient,
		limiter:   rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
		userAgent: fmt.Sprintf("%s v%s: %s", product, version, description),
		logger:    logger.With().Str("component", "mediawiki").Logger(),
	}
}

// AllMessage is one entry of a meta=allmessages response. Default is nil
// unless the API reported a wiki customization for the message.
type AllMessage struct {
	Name    string  `json:"name"`
	Content string  `json:"*"`
	Default *string `json:"default"`
}

// RecentChange is one entry of a list=recentchanges response, restricted to
// the log properties the thread-log transposition needs.
type RecentChange struct {
	Type      string `json:"type"`
	Namespace int    `json:"ns"`
	Title     string `json:"title"`
	PageID    int    `json:"pageid"`
	User      string `json:"user"`
	Comment   string `json:"comment"`
	LogType   string `json:"logtype"`
	LogAction string `json:"logaction"`
}

type page struct {
	PageID    int    `json:"pageid"`
	Title     string `json:"title"`
	Missing   *any   `json:"missing"`
	Revisions []struct {
		Content string `json:"*"`
	} `json:"revisions"`
}

type queryResponse struct {
	Query *struct {
		AllMessages   []AllMessage `json:"allmessages"`
		Languages     []struct {
			Code string `json:"code"`
		} `json:"languages"`
		Pages         map[string]page `json:"pages"`
		RecentChanges []RecentChange  `json:"recentchanges"`
	} `json:"query"`
	Error *struct {
		Code string `json:"code"`
		Info string `json:"info"`
	} `json:"error"`
}

// query performs one action=query request against a wiki and decodes the
// response envelope. A cache buster keeps Fandom's HTTP caches out of the
// way; message overrides must be observed promptly after a parse failure.
func (c *Client) query(ctx context.Context, wiki, language, domain string, params url.Values) (*queryResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params.Set("action", "query")
	params.Set("format", "json")
	params.Set("cb", strconv.FormatInt(time.Now().UnixMilli(), 10))
	endpoint := util.URL(wiki, language, domain) + "/api.php?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug().
		Str("wiki", wiki).
		Str("meta", params.Get("meta")).
		Dur("elapsed", time.Since(start)).
		Int("status", resp.StatusCode).
		Msg("API query")
	metrics.APIRequestDuration.WithLabelValues(endpointLabel(params)).
		Observe(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, endpoint)
	}

	var qr queryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		if looksLikeHTML(body) {
			return nil, ErrNotJSON
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if qr.Error != nil {
		return nil, fmt.Errorf("API error %s: %s", qr.Error.Code, qr.Error.Info)
	}
	return &qr, nil
}

// endpointLabel names the query for metrics by its primary module.
func endpointLabel(params url.Values) string {
	for _, key := range []string{"meta", "list", "prop"} {
		if v := params.Get(key); v != "" {
			return v
		}
	}
	return "query"
}

func looksLikeHTML(body []byte) bool {
	trimmed := strings.TrimSpace(string(body))
	return strings.HasPrefix(trimmed, "<")
}

// Languages fetches the language codes known to the community wiki.
func (c *Client) Languages(ctx context.Context) ([]string, error) {
	params := url.Values{
		"meta":   {"siteinfo"},
		"siprop": {"languages"},
	}
	qr, err := c.query(ctx, CommunityWiki, "", communityDomain, params)
	if err != nil {
		return nil, err
	}
	if qr.Query == nil {
		return nil, errors.New("siteinfo response has no query")
	}
	codes := make([]string, 0, len(qr.Query.Languages))
	for _, l := range qr.Query.Languages {
		codes = append(codes, l.Code)
	}
	return codes, nil
}

// LanguageMessages fetches the default values of the named messages in one
// language, from the community wiki.
func (c *Client) LanguageMessages(ctx context.Context, language string, names []string) ([]AllMessage, error) {
	params := url.Values{
		"meta":       {"allmessages"},
		"ammessages": {strings.Join(names, "|")},
		"amlang":     {language},
		"amprop":     {"default"},
	}
	qr, err := c.query(ctx, CommunityWiki, "", communityDomain, params)
	if err != nil {
		return nil, err
	}
	if qr.Query == nil {
		return nil, errors.New("allmessages response has no query")
	}
	return qr.Query.AllMessages, nil
}

// CustomizedMessages fetches a wiki's customized system messages. A nil
// AllMessages slice with nil error means the response envelope lacked the
// allmessages list, which callers report as an unusual response.
func (c *Client) CustomizedMessages(ctx context.Context, wiki, language, domain string, names []string) ([]AllMessage, bool, error) {
	params := url.Values{
		"meta":         {"allmessages"},
		"ammessages":   {strings.Join(names, "|")},
		"amcustomized": {"modified"},
		"amprop":       {"default"},
	}
	qr, err := c.query(ctx, wiki, language, domain, params)
	if err != nil {
		return nil, false, err
	}
	if qr.Query == nil || qr.Query.AllMessages == nil {
		return nil, false, nil
	}
	return qr.Query.AllMessages, true, nil
}

// RevisionTitle resolves a revision id to its page title.
func (c *Client) RevisionTitle(ctx context.Context, wiki, language, domain string, revid int) (string, error) {
	params := url.Values{
		"prop":   {"info"},
		"revids": {strconv.Itoa(revid)},
	}
	qr, err := c.query(ctx, wiki, language, domain, params)
	if err != nil {
		return "", err
	}
	if qr.Query != nil {
		for _, p := range qr.Query.Pages {
			if p.Title != "" {
				return p.Title, nil
			}
		}
	}
	return "", ErrMissingTitle
}

// LogRecentChanges fetches the latest log entries of a wiki.
func (c *Client) LogRecentChanges(ctx context.Context, wiki, language, domain string) ([]RecentChange, error) {
	params := url.Values{
		"list":   {"recentchanges"},
		"rctype": {"log"},
		"rcprop": {"comment|ids|loginfo|title|user"},
	}
	qr, err := c.query(ctx, wiki, language, domain, params)
	if err != nil {
		return nil, err
	}
	if qr.Query == nil {
		return nil, errors.New("recentchanges response has no query")
	}
	return qr.Query.RecentChanges, nil
}

// PageContent fetches the current wikitext of one page. Missing pages
// return ErrMissingTitle.
func (c *Client) PageContent(ctx context.Context, wiki, language, domain, title string) (string, error) {
	params := url.Values{
		"titles": {title},
		"prop":   {"revisions"},
		"rvprop": {"content"},
	}
	qr, err := c.query(ctx, wiki, language, domain, params)
	if err != nil {
		return "", err
	}
	if qr.Query != nil {
		for _, p := range qr.Query.Pages {
			if p.Missing == nil && len(p.Revisions) > 0 {
				return p.Revisions[0].Content, nil
			}
		}
	}
	return "", ErrMissingTitle
}

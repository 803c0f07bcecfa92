package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/KockaAdmiralac/kockalogger/internal/mediawiki"
)

// fakeAPI answers siteinfo and allmessages queries from canned fixtures.
type fakeAPI struct {
	languages map[string]map[string]string
	requests  atomic.Int64
}

func (f *fakeAPI) RoundTrip(req *http.Request) (*http.Response, error) {
	f.requests.Add(1)
	q := req.URL.Query()
	var body any
	switch {
	case q.Get("siprop") == "languages":
		var langs []map[string]string
		for lang := range f.languages {
			langs = append(langs, map[string]string{"code": lang})
		}
		body = map[string]any{"query": map[string]any{"languages": langs}}
	case q.Get("meta") == "allmessages":
		lang := q.Get("amlang")
		msgs, ok := f.languages[lang]
		if !ok || msgs == nil {
			return jsonResponse(map[string]any{
				"error": map[string]string{"code": "badlang", "info": "unknown language"},
			})
		}
		var entries []map[string]any
		for _, name := range strings.Split(q.Get("ammessages"), "|") {
			if value, ok := msgs[name]; ok {
				entries = append(entries, map[string]any{"name": name, "*": value})
			}
		}
		body = map[string]any{"query": map[string]any{"allmessages": entries}}
	default:
		return nil, fmt.Errorf("unexpected query: %s", req.URL)
	}
	return jsonResponse(body)
}

func jsonResponse(body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(string(data))),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}, nil
}

func testLoader(t *testing.T, api *fakeAPI, dir string) *Loader {
	t.Helper()
	client := mediawiki.NewClient(zerolog.Nop(), &http.Client{Transport: api})
	return New(client, dir, false, zerolog.Nop())
}

func TestRunRebuild(t *testing.T) {
	api := &fakeAPI{languages: map[string]map[string]string{
		"en": {
			"blocklogentry":   "blocked [[$1]] with an expiration time of $2 $3",
			"deletedarticle":  `deleted "[[$1]]"`,
			"patrol-log-line": "marked $1 of [[$2]] patrolled",
			"patrol-log-diff": "revision $1",
			"autosumm-blank":  "Blanked the page",
		},
		"de": {
			"blocklogentry":  "sperrte [[$1]] für einen Zeitraum von $2 $3",
			"deletedarticle": `deleted "[[$1]]"`, // same as en, must dedup
		},
	}}
	dir := t.TempDir()
	l := testLoader(t, api, dir)

	cache, err := l.Run(context.Background(), true)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if cache.Empty() {
		t.Fatal("cache is empty after rebuild")
	}

	if got := len(cache.Raw("", "blocklogentry")); got != 2 {
		t.Errorf("blocklogentry variants = %d, expected 2", got)
	}
	if got := len(cache.Raw("", "deletedarticle")); got != 1 {
		t.Errorf("deletedarticle variants = %d, expected deduplication to 1", got)
	}

	// patrol-log-diff folds into patrol-log-line and never appears itself.
	patrol := cache.Raw("", "patrol-log-line")
	if len(patrol) != 1 || patrol[0] != "marked revision $1 of [[$2]] patrolled" {
		t.Errorf("patrol-log-line = %q", patrol)
	}
	if len(cache.Raw("", "patrol-log-diff")) != 0 {
		t.Error("patrol-log-diff must not be cached on its own")
	}

	// autosumm-blank stays raw with no compiled regex.
	if len(cache.Raw("", "autosumm-blank")) != 1 {
		t.Error("autosumm-blank raw missing")
	}
	if len(cache.Regexes("autosumm-blank")) != 0 {
		t.Error("autosumm-blank must not compile")
	}

	if len(cache.Regexes("blocklogentry")) != 2 {
		t.Errorf("blocklogentry regexes = %d", len(cache.Regexes("blocklogentry")))
	}
}

func TestRunFailedLanguageSkipped(t *testing.T) {
	api := &fakeAPI{languages: map[string]map[string]string{
		"en": {"deletedarticle": `deleted "[[$1]]"`},
	}}
	// The language list advertises a language whose fetch errors out.
	api.languages["xx"] = nil
	dir := t.TempDir()
	l := testLoader(t, api, dir)

	cache, err := l.Run(context.Background(), true)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if len(cache.Raw("", "deletedarticle")) != 1 {
		t.Error("surviving language missing from cache")
	}
}

func TestRunCorruptCacheRebuilds(t *testing.T) {
	api := &fakeAPI{languages: map[string]map[string]string{
		"en": {"deletedarticle": `deleted "[[$1]]"`},
	}}
	dir := t.TempDir()
	// Valid JSON, but the regex source no longer compiles.
	bad := `{"messagecache":{},"i18n":{"blocklogentry":["("]},"custom":{},"i18n2":{}}`
	if err := os.WriteFile(filepath.Join(dir, "_loader.json"), []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	l := testLoader(t, api, dir)

	cache, err := l.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run() over a corrupt cache failed: %v", err)
	}
	if api.requests.Load() == 0 {
		t.Error("corrupt cache must trigger a rebuild")
	}
	if len(cache.Raw("", "deletedarticle")) != 1 {
		t.Error("rebuilt cache missing fetched messages")
	}
}

func TestRunLoadsFromDisk(t *testing.T) {
	api := &fakeAPI{languages: map[string]map[string]string{
		"en": {"deletedarticle": `deleted "[[$1]]"`},
	}}
	dir := t.TempDir()
	l := testLoader(t, api, dir)
	if _, err := l.Run(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	built := api.requests.Load()

	// A second loader over the same directory must not touch the API.
	l2 := testLoader(t, api, dir)
	cache, err := l2.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run() from disk failed: %v", err)
	}
	if api.requests.Load() != built {
		t.Error("disk load still hit the API")
	}
	if cache.Empty() {
		t.Fatal("cache empty after disk load")
	}
	if len(cache.Matchers("en:any:fandom.com", "deletedarticle")) != 1 {
		t.Error("compiled matcher missing after round trip")
	}
}

func TestSaveLoadDebugMode(t *testing.T) {
	dir := t.TempDir()
	cache := NewCache()
	if err := cache.restore(&cacheDump{
		MessageCache: map[string][]string{"deletedarticle": {`deleted "[[$1]]"`}},
		I18n:         map[string][]string{"deletedarticle": {`^deleted "\[\[([^\x03]+?)\]\]"$`}},
	}); err != nil {
		t.Fatal(err)
	}
	if err := cache.Save(dir, true); err != nil {
		t.Fatalf("debug save failed: %v", err)
	}

	loaded := NewCache()
	if err := loaded.Load(dir, true); err != nil {
		t.Fatalf("debug load failed: %v", err)
	}
	if loaded.Empty() {
		t.Fatal("debug round trip lost the cache")
	}
	if len(loaded.Regexes("deletedarticle")) != 1 {
		t.Error("regex missing after debug round trip")
	}
}

func TestLoadMissingFileYieldsEmpty(t *testing.T) {
	cache := NewCache()
	if err := cache.Load(t.TempDir(), false); err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if !cache.Empty() {
		t.Error("cache must stay empty")
	}
}

func TestUpdateCustom(t *testing.T) {
	dir := t.TempDir()
	l := New(nil, dir, false, zerolog.Nop())
	compiled, err := l.UpdateCustom("custom", "en", "fandom.com", map[string]string{
		"deletedarticle": "wiped [[$1]]",
		"autosumm-blank": "Emptied it", // no rule, raw only
	})
	if err != nil {
		t.Fatalf("UpdateCustom() failed: %v", err)
	}
	if len(compiled) != 1 {
		t.Fatalf("compiled = %d, expected the rule-less name skipped", len(compiled))
	}

	key := "en:custom:fandom.com"
	if l.Cache().Override(key) == nil {
		t.Fatal("override slot missing")
	}
	matchers := l.Cache().Matchers(key, "deletedarticle")
	if len(matchers) != 1 || matchers[0].Template != "wiped [[$1]]" {
		t.Fatalf("matchers = %+v", matchers)
	}

	// The rule-less override still surfaces for containment checks, ahead
	// of the global corpus.
	raws := l.Cache().Raw(key, "autosumm-blank")
	if len(raws) != 1 || raws[0] != "Emptied it" {
		t.Fatalf("raw overrides = %q", raws)
	}

	// Overrides persist across a reload.
	reloaded := NewCache()
	if err := reloaded.Load(dir, false); err != nil {
		t.Fatal(err)
	}
	if reloaded.Override(key) == nil {
		t.Error("override lost on reload")
	}
}

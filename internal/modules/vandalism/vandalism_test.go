package vandalism

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/KockaAdmiralac/kockalogger/internal/cache"
	"github.com/KockaAdmiralac/kockalogger/internal/loader"
	"github.com/KockaAdmiralac/kockalogger/internal/messages"
	"github.com/KockaAdmiralac/kockalogger/internal/models"
	"github.com/KockaAdmiralac/kockalogger/internal/modules"
)

func testMessages(t *testing.T) *loader.Cache {
	t.Helper()
	src, ok := messages.Source("autosumm-replace", `Replaced content with "$1"`)
	require.True(t, ok)
	dump := map[string]any{
		"messagecache": map[string][]string{
			"autosumm-replace": {`Replaced content with "$1"`},
			"autosumm-blank":   {"Blanked the page", "Leerte die Seite"},
		},
		"i18n": map[string][]string{"autosumm-replace": {src}},
		"custom": map[string]map[string]string{
			"en:test:fandom.com": {"autosumm-blank": "Took it all away"},
		},
		"i18n2": map[string]any{},
	}
	data, err := json.Marshal(dump)
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "_loader.json"), data, 0o644))
	c := loader.NewCache()
	require.NoError(t, c.Load(dir, false))
	return c
}

func testModule(t *testing.T, hookURL string) (*Vandalism, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	sub := redis.NewClient(&redis.Options{Addr: m.Addr()})
	enrichment := cache.NewWithClients(client, sub, time.Hour, zerolog.Nop())
	t.Cleanup(func() { enrichment.Close() })

	var node yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte("wiki: test\nurl: "+hookURL+"\n"), &node))

	v := &Vandalism{}
	require.NoError(t, v.Setup(&modules.Env{
		Logger:   zerolog.Nop(),
		Config:   &node,
		Messages: testMessages(t),
		Cache:    enrichment,
	}))
	t.Cleanup(func() { v.Kill() })
	return v, m
}

func TestInterested(t *testing.T) {
	v, _ := testModule(t, "https://example.invalid/hook")

	edit := &models.Message{Type: models.TypeEdit, Wiki: "test", Language: "en", Domain: "fandom.com"}
	ok, props := v.Interested(edit)
	assert.True(t, ok)
	assert.Empty(t, props)

	wallEdit := &models.Message{
		Type: models.TypeEdit, Wiki: "test", Language: "en", Domain: "fandom.com",
		Params: map[string]int{"diff": 55},
	}
	ok, props = v.Interested(wallEdit)
	assert.True(t, ok)
	assert.Equal(t, []string{modules.PropPageTitle}, props, "titleless edits need resolution")

	otherWiki := &models.Message{Type: models.TypeEdit, Wiki: "other", Language: "en", Domain: "fandom.com"}
	ok, _ = v.Interested(otherWiki)
	assert.False(t, ok)

	blockLog := &models.Message{Type: models.TypeLog, Log: "block", Wiki: "test", Language: "en", Domain: "fandom.com"}
	ok, _ = v.Interested(blockLog)
	assert.True(t, ok)

	patrolLog := &models.Message{Type: models.TypeLog, Log: "patrol", Wiki: "test", Language: "en", Domain: "fandom.com"}
	ok, _ = v.Interested(patrolLog)
	assert.False(t, ok)

	errMsg := models.ErrorMessage("raw", models.CodeRCError, "x", nil)
	errMsg.Wiki = "test"
	ok, _ = v.Interested(errMsg)
	assert.False(t, ok)
}

func TestExecuteClassification(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()
	v, _ := testModule(t, srv.URL)
	ctx := context.Background()

	base := func(user string) *models.Message {
		return &models.Message{
			Type: models.TypeEdit, Wiki: "test", Language: "en", Domain: "fandom.com",
			User: user, Page: "Sandbox",
		}
	}

	harmless := base("Gnome")
	harmless.Diff = -10
	harmless.Summary = "typo fix"
	require.NoError(t, v.Execute(ctx, harmless))
	assert.Zero(t, hits.Load())

	removal := base("Remover")
	removal.Diff = -2000
	require.NoError(t, v.Execute(ctx, removal))
	assert.Equal(t, int64(1), hits.Load())

	blanker := base("Blanker")
	blanker.Summary = "Leerte die Seite"
	require.NoError(t, v.Execute(ctx, blanker))
	assert.Equal(t, int64(2), hits.Load(), "localized blanking summary must flag")

	replacer := base("Replacer")
	replacer.Summary = `Replaced content with "lol"`
	require.NoError(t, v.Execute(ctx, replacer))
	assert.Equal(t, int64(3), hits.Load())

	overridden := base("Override blanker")
	overridden.Summary = "Took it all away"
	require.NoError(t, v.Execute(ctx, overridden))
	assert.Equal(t, int64(4), hits.Load(), "the wiki's own blanking summary must flag")
}

func TestClassifyBlockTargets(t *testing.T) {
	v, _ := testModule(t, "https://example.invalid/hook")

	rangeBlock := &models.Message{
		Type: models.TypeLog, Log: "block", Action: "block", Target: "10.20.0.0/16",
	}
	reason, ok := v.classify(rangeBlock)
	require.True(t, ok)
	assert.Contains(t, reason, "range 10.20.0.0/16")

	ipBlock := &models.Message{
		Type: models.TypeLog, Log: "block", Action: "block", Target: "192.0.2.55",
	}
	reason, ok = v.classify(ipBlock)
	require.True(t, ok)
	assert.Contains(t, reason, "IP 192.0.2.55")

	namedBlock := &models.Message{
		Type: models.TypeLog, Log: "block", Action: "block", Target: "Vandal",
	}
	reason, ok = v.classify(namedBlock)
	require.True(t, ok)
	assert.Equal(t, "block/block", reason)
}

func TestExecuteDebounce(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()
	v, m := testModule(t, srv.URL)
	ctx := context.Background()

	msg := &models.Message{
		Type: models.TypeEdit, Wiki: "test", Language: "en", Domain: "fandom.com",
		User: "Vandal", Page: "Sandbox", Diff: -3000,
	}
	require.NoError(t, v.Execute(ctx, msg))
	require.NoError(t, v.Execute(ctx, msg))
	assert.Equal(t, int64(1), hits.Load(), "second alert inside the window is debounced")

	m.FastForward(cache.VandalismTTL + time.Second)
	require.NoError(t, v.Execute(ctx, msg))
	assert.Equal(t, int64(2), hits.Load(), "expired debounce bit re-arms")
}

func TestSetupRequiresURL(t *testing.T) {
	var node yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte("wiki: test\n"), &node))
	v := &Vandalism{}
	err := v.Setup(&modules.Env{Logger: zerolog.Nop(), Config: &node, Messages: loader.NewCache()})
	assert.Error(t, err)
}

package newusers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/KockaAdmiralac/kockalogger/internal/cache"
	"github.com/KockaAdmiralac/kockalogger/internal/models"
	"github.com/KockaAdmiralac/kockalogger/internal/modules"
)

func TestSplitKey(t *testing.T) {
	tests := []struct {
		key  string
		user string
		wiki string
		lang string
		dom  string
		ok   bool
	}{
		{"newusers:Someone:test:en:fandom.com", "Someone", "test", "en", "fandom.com", true},
		{"newusers:A:B:name:test:de:fandom.com", "A:B:name", "test", "de", "fandom.com", true},
		{"vandalism:Someone:en:test:fandom.com", "", "", "", "", false},
		{"newusers:short", "", "", "", "", false},
	}
	for _, tt := range tests {
		user, wiki, lang, dom, ok := splitKey(tt.key)
		assert.Equal(t, tt.ok, ok, tt.key)
		if !tt.ok {
			continue
		}
		assert.Equal(t, tt.user, user, tt.key)
		assert.Equal(t, tt.wiki, wiki, tt.key)
		assert.Equal(t, tt.lang, lang, tt.key)
		assert.Equal(t, tt.dom, dom, tt.key)
	}
}

type hookRecorder struct {
	mu       sync.Mutex
	contents []string
}

func (h *hookRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]string
		_ = json.Unmarshal(body, &payload)
		h.mu.Lock()
		h.contents = append(h.contents, payload["content"])
		h.mu.Unlock()
	}
}

func (h *hookRecorder) all() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.contents...)
}

func testModule(t *testing.T, hookURL string) (*NewUsers, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	sub := redis.NewClient(&redis.Options{Addr: m.Addr()})
	enrichment := cache.NewWithClients(client, sub, time.Hour, zerolog.Nop())
	t.Cleanup(func() { enrichment.Close() })

	var node yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte("url: "+hookURL+"\n"), &node))

	n := &NewUsers{}
	require.NoError(t, n.Setup(&modules.Env{
		Logger: zerolog.Nop(),
		Config: &node,
		Cache:  enrichment,
	}))
	t.Cleanup(func() { n.Kill() })
	return n, m
}

func TestInterested(t *testing.T) {
	n, _ := testModule(t, "https://example.invalid/hook")

	reg := &models.Message{Type: models.TypeLog, Log: "newusers"}
	ok, props := n.Interested(reg)
	assert.True(t, ok)
	assert.Empty(t, props)

	edit := &models.Message{Type: models.TypeEdit}
	ok, _ = n.Interested(edit)
	assert.False(t, ok)

	other := &models.Message{Type: models.TypeLog, Log: "block"}
	ok, _ = n.Interested(other)
	assert.False(t, ok)
}

func TestExecuteArmsBit(t *testing.T) {
	n, m := testModule(t, "https://example.invalid/hook")
	ctx := context.Background()

	msg := &models.Message{
		Type: models.TypeLog, Log: "newusers",
		User: "Fresh", Wiki: "test", Language: "en", Domain: "fandom.com",
	}
	require.NoError(t, n.Execute(ctx, msg))

	key := cache.NewusersKey("Fresh", "test", "en", "fandom.com")
	assert.True(t, m.Exists(key))
	ttl := m.TTL(key)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, cache.NewusersTTL)

	// A duplicate registration line does not extend the window.
	m.SetTTL(key, time.Minute)
	require.NoError(t, n.Execute(ctx, msg))
	assert.Equal(t, time.Minute, m.TTL(key))
}

func TestExpiredKeyTriggersFollowUp(t *testing.T) {
	recorder := &hookRecorder{}
	srv := httptest.NewServer(recorder.handler())
	defer srv.Close()
	_, m := testModule(t, srv.URL)

	key := cache.NewusersKey("Fresh", "test", "en", "fandom.com")
	require.Eventually(t, func() bool {
		return m.Publish("__keyevent@0__:expired", key) > 0
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(recorder.all()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	content := recorder.all()[0]
	assert.Contains(t, content, "Fresh")
	assert.Contains(t, content, "test.fandom.com")
}

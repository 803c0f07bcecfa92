package loader

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/KockaAdmiralac/kockalogger/internal/mediawiki"
	"github.com/KockaAdmiralac/kockalogger/internal/messages"
	"github.com/KockaAdmiralac/kockalogger/internal/models"
)

// languageFetchLimit bounds the allmessages fan-out during a full rebuild.
const languageFetchLimit = 10

// Loader builds the message cache at startup and folds per-wiki overrides
// into it at runtime.
type Loader struct {
	client *mediawiki.Client
	dir    string
	debug  bool
	logger zerolog.Logger
	cache  *Cache
}

// New creates a loader persisting under dir.
func New(client *mediawiki.Client, dir string, debug bool, logger zerolog.Logger) *Loader {
	return &Loader{
		client: client,
		dir:    dir,
		debug:  debug,
		logger: logger.With().Str("component", "loader").Logger(),
		cache:  NewCache(),
	}
}

// Cache returns the loaded cache. Valid after Run.
func (l *Loader) Cache() *Cache {
	return l.cache
}

// Run is the startup entry: load the cache from disk, or rebuild it from the
// API when the disk copy is absent or fetch is forced.
func (l *Loader) Run(ctx context.Context, fetch bool) (*Cache, error) {
	if !fetch {
		if err := l.cache.Load(l.dir, l.debug); err != nil {
			l.logger.Warn().Err(err).Msg("Cache on disk is unusable, rebuilding")
		} else if !l.cache.Empty() {
			l.logger.Info().Msg("Message cache loaded from disk")
			return l.cache, nil
		} else {
			l.logger.Info().Msg("No cache on disk, rebuilding")
		}
	}
	if err := l.rebuild(ctx); err != nil {
		return nil, err
	}
	if err := l.cache.Save(l.dir, l.debug); err != nil {
		return nil, fmt.Errorf("persist cache: %w", err)
	}
	return l.cache, nil
}

// rebuild fetches every language's system messages and compiles the i18n
// regex layer. Languages that fail to fetch are skipped; the remainder still
// forms a usable cache.
func (l *Loader) rebuild(ctx context.Context) error {
	languages, err := l.client.Languages(ctx)
	if err != nil {
		return fmt.Errorf("fetch language list: %w", err)
	}
	l.logger.Info().Int("languages", len(languages)).Msg("Rebuilding message cache")

	names := messages.Known()
	perLanguage := make([][]mediawiki.AllMessage, len(languages))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(languageFetchLimit)
	for i, language := range languages {
		i, language := i, language
		g.Go(func() error {
			msgs, err := l.client.LanguageMessages(gctx, language, names)
			if err != nil {
				l.logger.Warn().Err(err).Str("language", language).
					Msg("Language fetch failed, skipping")
				return nil
			}
			mu.Lock()
			perLanguage[i] = msgs
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	raw := make(map[string][]string)
	seen := make(map[string]map[string]bool)
	// Insertion order follows the language list so the compiled regexes stay
	// positionally aligned with the raw templates.
	for _, msgs := range perLanguage {
		for name, value := range collapseLanguage(msgs) {
			if seen[name] == nil {
				seen[name] = make(map[string]bool)
			}
			if seen[name][value] {
				continue
			}
			seen[name][value] = true
			raw[name] = append(raw[name], value)
		}
	}

	i18n := make(map[string][]*regexp.Regexp)
	for name, values := range raw {
		if !messages.Transformable(name) {
			continue
		}
		regexes := make([]*regexp.Regexp, 0, len(values))
		for _, value := range values {
			re, err := messages.Compile(name, value)
			if err != nil {
				return fmt.Errorf("compile %s from %q: %w", name, value, err)
			}
			regexes = append(regexes, re)
		}
		i18n[name] = regexes
	}

	l.cache.replace(raw, i18n)
	l.logger.Info().Int("messages", len(raw)).Msg("Message cache rebuilt")
	return nil
}

// collapseLanguage turns one language's response into name → value, taking
// the default when present. patrol-log-diff is never emitted on its own: its
// value substitutes the $1 of the language's patrol-log-line, matching how
// MediaWiki nests the two at render time.
func collapseLanguage(msgs []mediawiki.AllMessage) map[string]string {
	values := make(map[string]string, len(msgs))
	patrolDiff := ""
	for _, m := range msgs {
		value := m.Content
		if m.Default != nil {
			value = *m.Default
		}
		if m.Name == "patrol-log-diff" {
			patrolDiff = value
			continue
		}
		if value == "" {
			continue
		}
		values[m.Name] = value
	}
	if line, ok := values["patrol-log-line"]; ok && patrolDiff != "" {
		values["patrol-log-line"] = strings.ReplaceAll(line, "$1", patrolDiff)
	}
	return values
}

// UpdateCustom incorporates a freshly fetched override set for one wiki:
// recompile the affected slot, install it and persist. Returns the compiled
// regexes so the caller can retry a failed parse immediately.
func (l *Loader) UpdateCustom(wiki, language, domain string, overrides map[string]string) (map[string]*regexp.Regexp, error) {
	key := models.OverrideKey(language, wiki, domain)
	compiled, err := compileOverrides(overrides)
	if err != nil {
		return nil, err
	}
	raws := make(map[string]string, len(overrides))
	for name, value := range overrides {
		raws[name] = value
	}
	l.cache.setCustom(key, raws, compiled)
	if err := l.cache.Save(l.dir, l.debug); err != nil {
		l.logger.Error().Err(err).Str("key", key).Msg("Failed to persist override update")
	}
	l.logger.Info().Str("key", key).Int("messages", len(compiled)).
		Msg("Installed custom message overrides")
	return compiled, nil
}

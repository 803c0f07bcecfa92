// Package fetcher reacts to summaries that matched no cached regex: it
// pulls the failing wiki's customized system messages and hands them to the
// loader, so the next identical summary parses. Requests for the same wiki
// collapse into one in-flight fetch.
package fetcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/KockaAdmiralac/kockalogger/internal/loader"
	"github.com/KockaAdmiralac/kockalogger/internal/mediawiki"
	"github.com/KockaAdmiralac/kockalogger/internal/messages"
	"github.com/KockaAdmiralac/kockalogger/internal/metrics"
	"github.com/KockaAdmiralac/kockalogger/internal/models"
)

// Fetcher fetches per-wiki message overrides on demand.
type Fetcher struct {
	client *mediawiki.Client
	loader *loader.Loader
	group  singleflight.Group
	logger zerolog.Logger
}

// New creates a fetcher installing overrides through the given loader.
func New(client *mediawiki.Client, l *loader.Loader, logger zerolog.Logger) *Fetcher {
	return &Fetcher{
		client: client,
		loader: l,
		logger: logger.With().Str("component", "fetcher").Logger(),
	}
}

// FetchCustom fetches and installs the customized messages of one wiki.
// Concurrent calls for the same {language}:{wiki}:{domain} share a single
// HTTP request. Failures are not retried here; the next parse failure for
// the wiki re-enters naturally.
func (f *Fetcher) FetchCustom(ctx context.Context, wiki, language, domain string) error {
	key := models.OverrideKey(language, wiki, domain)
	_, err, _ := f.group.Do(key, func() (any, error) {
		return nil, f.fetch(ctx, wiki, language, domain, key)
	})
	return err
}

func (f *Fetcher) fetch(ctx context.Context, wiki, language, domain, key string) error {
	msgs, found, err := f.client.CustomizedMessages(ctx, wiki, language, domain, messages.Known())
	if err != nil {
		subcode := models.FetchSubcodeFail
		if errors.Is(err, mediawiki.ErrNotJSON) {
			subcode = models.FetchSubcodeHTML
		}
		metrics.CustomFetchesTotal.WithLabelValues(subcode).Inc()
		f.logger.Error().Err(err).
			Str("code", models.CodeMessageFetch).
			Str("messagefetchType", subcode).
			Str("key", key).
			Msg("Custom message fetch failed")
		return fmt.Errorf("fetch custom messages for %s: %w", key, err)
	}
	if !found {
		metrics.CustomFetchesTotal.WithLabelValues(models.FetchSubcodeUnusual).Inc()
		f.logger.Error().
			Str("code", models.CodeMessageFetch).
			Str("messagefetchType", models.FetchSubcodeUnusual).
			Str("key", key).
			Msg("Response envelope carried no allmessages")
		return fmt.Errorf("unusual allmessages response for %s", key)
	}

	overrides := make(map[string]string)
	for _, m := range msgs {
		if m.Default != nil {
			overrides[m.Name] = m.Content
		}
	}
	if _, err := f.loader.UpdateCustom(wiki, language, domain, overrides); err != nil {
		metrics.CustomFetchesTotal.WithLabelValues(models.FetchSubcodeFail).Inc()
		return fmt.Errorf("install overrides for %s: %w", key, err)
	}
	metrics.CustomFetchesTotal.WithLabelValues("ok").Inc()
	f.logger.Info().Str("key", key).Int("messages", len(overrides)).
		Msg("Fetched custom messages")
	return nil
}

// Package dispatcher fans decoded messages out to the subscriber modules,
// fetching any enrichment properties they request first, and feeds parse
// failures back into the custom-message fetcher.
package dispatcher

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/KockaAdmiralac/kockalogger/internal/cache"
	"github.com/KockaAdmiralac/kockalogger/internal/fetcher"
	"github.com/KockaAdmiralac/kockalogger/internal/mediawiki"
	"github.com/KockaAdmiralac/kockalogger/internal/metrics"
	"github.com/KockaAdmiralac/kockalogger/internal/models"
	"github.com/KockaAdmiralac/kockalogger/internal/modules"
	"github.com/KockaAdmiralac/kockalogger/internal/util"
)

// threadTitleRegex extracts the thread title attribute from the parent
// page's closing ac_metadata tag.
var threadTitleRegex = regexp.MustCompile(
	`<ac_metadata [^>]*title="([^"]+)"[^>]*>\s*</ac_metadata>\s*$`)

// commentSeparator splits a thread page title from its parent page.
const commentSeparator = "/@comment-"

// Dispatcher routes messages to interested modules.
type Dispatcher struct {
	modules []modules.Module
	fetcher *fetcher.Fetcher
	api     *mediawiki.Client
	cache   *cache.Enrichment
	logger  zerolog.Logger

	// In-flight enrichment and feedback fetches, drained at shutdown.
	wg sync.WaitGroup

	// Per-parent-page single-flight for thread title fetches.
	threads singleflight.Group
}

// New creates a dispatcher over the registered module instances.
func New(mods []modules.Module, f *fetcher.Fetcher, api *mediawiki.Client, c *cache.Enrichment, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		modules: mods,
		fetcher: f,
		api:     api,
		cache:   c,
		logger:  logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch routes one message. Messages needing no enrichment are executed
// inline, preserving arrival order; enrichment moves the message onto a
// goroutine, so enriched messages may complete out of order.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *models.Message) {
	if msg.IsError() && msg.ErrorCode == models.CodeLogParseFail && msg.Wiki != "" {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.fetcher.FetchCustom(ctx, msg.Wiki, msg.Language, msg.Domain); err != nil {
				d.logger.Debug().Err(err).Str("wiki", msg.Wiki).Msg("Custom fetch failed")
			}
		}()
	}

	var interested []modules.Module
	props := map[string]bool{}
	for _, mod := range d.modules {
		ok, wanted := mod.Interested(msg)
		if !ok {
			continue
		}
		interested = append(interested, mod)
		for _, prop := range wanted {
			props[prop] = true
		}
	}
	if len(interested) == 0 {
		return
	}

	if len(props) == 0 {
		for _, mod := range interested {
			d.execute(ctx, mod, msg)
		}
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.enrich(ctx, msg, props); err != nil {
			d.logger.Error().Err(err).Str("trace", msg.TraceID).Msg("Enrichment failed, dropping message")
			return
		}
		for _, mod := range interested {
			d.execute(ctx, mod, msg)
		}
	}()
}

// Drain waits for in-flight enrichment and feedback fetches, up to the
// context deadline.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// execute runs one module on one message, containing panics.
func (d *Dispatcher) execute(ctx context.Context, mod modules.Module, msg *models.Message) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ModuleExecutionsTotal.WithLabelValues(mod.Name(), "panic").Inc()
			d.logger.Error().
				Str("type", "dispatch").
				Str("mod", mod.Name()).
				Interface("panic", r).
				Msg("Module panicked")
		}
	}()
	if err := mod.Execute(ctx, msg); err != nil {
		metrics.ModuleExecutionsTotal.WithLabelValues(mod.Name(), "error").Inc()
		d.logger.Error().Err(err).
			Str("type", "dispatch").
			Str("mod", mod.Name()).
			Msg("Module execution failed")
		return
	}
	metrics.ModuleExecutionsTotal.WithLabelValues(mod.Name(), "ok").Inc()
}

// enrich fetches the union of requested properties into the message.
func (d *Dispatcher) enrich(ctx context.Context, msg *models.Message, props map[string]bool) error {
	for prop := range props {
		var err error
		switch prop {
		case modules.PropPageTitle:
			err = d.fetchPageTitle(ctx, msg)
		case modules.PropThreadLog:
			err = d.fetchThreadLog(ctx, msg)
		case modules.PropThreadTitle:
			err = d.fetchThreadTitle(ctx, msg)
		default:
			err = fmt.Errorf("unknown enrichment property %q", prop)
		}
		if err != nil {
			metrics.EnrichmentFetchesTotal.WithLabelValues(prop, "error").Inc()
			return err
		}
		metrics.EnrichmentFetchesTotal.WithLabelValues(prop, "ok").Inc()
	}
	return nil
}

// fetchPageTitle resolves the page title behind an edit's revision id,
// memoized across the oldid and subsequent diff revisions.
func (d *Dispatcher) fetchPageTitle(ctx context.Context, msg *models.Message) error {
	revid, ok := msg.Params["diff"]
	if !ok {
		revid, ok = msg.Params["oldid"]
	}
	if !ok {
		return fmt.Errorf("%s: message has no revision id", models.CodeAPITitleAPI)
	}

	title, err := d.cache.Title(ctx, msg.Wiki, revid)
	if err != nil {
		d.logger.Warn().Err(err).Msg("Title cache read failed")
	}
	if title != "" {
		msg.PageTitle = title
		return nil
	}

	title, err = d.api.RevisionTitle(ctx, msg.Wiki, msg.Language, msg.Domain, revid)
	if err == mediawiki.ErrMissingTitle {
		return fmt.Errorf("%s: no title for revision %d", models.CodeAPINoTitle, revid)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", models.CodeAPITitleAPI, err)
	}
	msg.PageTitle = title
	if err := d.cache.SetTitle(ctx, msg.Wiki, revid, title); err != nil {
		d.logger.Warn().Err(err).Msg("Title cache write failed")
	}
	return nil
}

// fetchThreadLog recovers the real fields of a logtype-0 entry from the
// wiki's recent changes and transposes them into the message.
func (d *Dispatcher) fetchThreadLog(ctx context.Context, msg *models.Message) error {
	changes, err := d.api.LogRecentChanges(ctx, msg.Wiki, msg.Language, msg.Domain)
	if err != nil {
		return fmt.Errorf("%s: %w", models.CodeAPIThreadLog, err)
	}
	for _, change := range changes {
		if change.LogType != "0" {
			continue
		}
		msg.Log = "thread"
		msg.Page = change.Title
		msg.User = change.User
		msg.Action = change.LogAction
		msg.Namespace = change.Namespace
		msg.Reason = change.Comment
		msg.ThreadID = strconv.Itoa(change.PageID)
		return nil
	}
	return fmt.Errorf("%s: no logtype-0 entry in recent changes", models.CodeThreadLogNoFind)
}

// fetchThreadTitle resolves the parent thread's title for a thread message,
// memoized per parent page and single-flighted across concurrent messages
// under the same parent.
func (d *Dispatcher) fetchThreadTitle(ctx context.Context, msg *models.Message) error {
	parent, _, _ := strings.Cut(msg.Page, commentSeparator)
	if parent == "" {
		return fmt.Errorf("%s: message has no parent page", models.CodeAPIThreadInfo)
	}

	if info, ok, err := d.cache.Thread(ctx, msg.Wiki, parent); err != nil {
		d.logger.Warn().Err(err).Str("code", models.CodeCacheThreadTitle).Msg("Thread cache read failed")
	} else if ok {
		msg.ThreadTitle = info.Title
		if msg.ThreadID == "" {
			msg.ThreadID = info.ID
		}
		return nil
	}

	key := msg.Wiki + ":" + parent
	value, err, _ := d.threads.Do(key, func() (any, error) {
		content, err := d.api.PageContent(ctx, msg.Wiki, msg.Language, msg.Domain, parent)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", models.CodeAPIThreadInfo, err)
		}
		m := threadTitleRegex.FindStringSubmatch(content)
		if m == nil {
			return nil, fmt.Errorf("%s: parent page has no thread metadata", models.CodeThreadTitleParse)
		}
		title := util.DecodeHTML(m[1])
		info := cache.ThreadInfo{ID: msg.ThreadID, Title: title}
		if err := d.cache.SetThread(ctx, msg.Wiki, parent, info); err != nil {
			d.logger.Warn().Err(err).Str("code", models.CodeCacheSetThreadCache).Msg("Thread cache write failed")
		}
		return title, nil
	})
	if err != nil {
		return err
	}
	msg.ThreadTitle = value.(string)
	return nil
}

// Package vandalism flags suspicious activity on one wiki: blanking edits,
// large removals and the destructive log families. Alerts per user are
// debounced through the enrichment cache.
package vandalism

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/KockaAdmiralac/kockalogger/internal/cache"
	"github.com/KockaAdmiralac/kockalogger/internal/loader"
	"github.com/KockaAdmiralac/kockalogger/internal/models"
	"github.com/KockaAdmiralac/kockalogger/internal/modules"
	"github.com/KockaAdmiralac/kockalogger/internal/relay"
	"github.com/KockaAdmiralac/kockalogger/internal/util"
)

func init() {
	modules.Register("vandalism", func() modules.Module { return &Vandalism{} })
}

// removalThreshold is the byte delta below which an edit is treated as a
// mass removal.
const removalThreshold = -1500

type vandalismConfig struct {
	Wiki     string `yaml:"wiki"`
	Language string `yaml:"language"`
	Domain   string `yaml:"domain"`
	URL      string `yaml:"url"`
}

// Vandalism sends debounced alerts for suspicious edits and logs.
type Vandalism struct {
	cfg      vandalismConfig
	messages *loader.Cache
	cache    *cache.Enrichment
	sink     relay.Sink
	logger   zerolog.Logger
}

func (v *Vandalism) Name() string {
	return "vandalism"
}

func (v *Vandalism) Setup(env *modules.Env) error {
	if err := env.Config.Decode(&v.cfg); err != nil {
		return fmt.Errorf("decode vandalism config: %w", err)
	}
	if v.cfg.URL == "" {
		return fmt.Errorf("vandalism module requires a webhook url")
	}
	if v.cfg.Language == "" {
		v.cfg.Language = models.DefaultLanguage
	}
	if v.cfg.Domain == "" {
		v.cfg.Domain = models.DefaultDomain
	}
	v.messages = env.Messages
	v.cache = env.Cache
	v.sink = relay.NewWebhook(v.cfg.URL, env.Logger)
	v.logger = env.Logger.With().Str("module", "vandalism").Logger()
	return nil
}

func (v *Vandalism) Interested(m *models.Message) (bool, []string) {
	if m.IsError() || m.Wiki != v.cfg.Wiki || m.Language != v.cfg.Language || m.Domain != v.cfg.Domain {
		return false, nil
	}
	switch m.Type {
	case models.TypeEdit:
		// Wall and board edits carry only a revision id; resolve the title
		// so the alert names the page.
		if m.Page == "" && (hasParam(m, "diff") || hasParam(m, "oldid")) {
			return true, []string{modules.PropPageTitle}
		}
		return true, nil
	case models.TypeLog:
		switch m.Log {
		case "block", "delete", "move":
			return true, nil
		}
	}
	return false, nil
}

func (v *Vandalism) Execute(ctx context.Context, m *models.Message) error {
	reason, suspicious := v.classify(m)
	if !suspicious {
		return nil
	}
	key := cache.VandalismKey(m.User, m.Language, m.Wiki, m.Domain)
	exists, err := v.cache.Exists(ctx, key)
	if err != nil {
		v.logger.Warn().Err(err).Msg("Debounce check failed")
	}
	if exists {
		return nil
	}
	if err := v.cache.SetBit(ctx, key, cache.VandalismTTL); err != nil {
		v.logger.Warn().Err(err).Msg("Debounce bit failed")
	}

	page := m.Page
	if page == "" {
		page = m.PageTitle
	}
	text := fmt.Sprintf("Possible vandalism by **%s** on **%s**: %s",
		util.EscapeMarkdown(m.User), util.EscapeMarkdown(page), reason)
	return v.sink.Send(ctx, []byte(text))
}

func (v *Vandalism) Kill() error {
	return v.sink.Close()
}

// classify reports whether a message looks like vandalism and why.
func (v *Vandalism) classify(m *models.Message) (string, bool) {
	if m.Type == models.TypeLog {
		if m.Log == "block" {
			switch {
			case util.IsIPRange(m.Target):
				return fmt.Sprintf("%s/%s of the range %s", m.Log, m.Action, m.Target), true
			case util.IsIP(m.Target):
				return fmt.Sprintf("%s/%s of the IP %s", m.Log, m.Action, m.Target), true
			}
		}
		return fmt.Sprintf("%s/%s", m.Log, m.Action), true
	}
	if m.Diff <= removalThreshold {
		return fmt.Sprintf("removed %d bytes", -m.Diff), true
	}
	for _, re := range v.messages.Regexes("autosumm-replace") {
		if re.MatchString(m.Summary) {
			return "replaced page content", true
		}
	}
	// autosumm-blank has no placeholders, so a literal containment check
	// suffices; the wiki's own override of the message counts too.
	key := models.OverrideKey(m.Language, m.Wiki, m.Domain)
	for _, blank := range v.messages.Raw(key, "autosumm-blank") {
		if blank != "" && strings.Contains(m.Summary, blank) {
			return "blanked page", true
		}
	}
	return "", false
}

func hasParam(m *models.Message, key string) bool {
	_, ok := m.Params[key]
	return ok
}

// Package activity relays every event of one wiki to a chat webhook.
package activity

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/KockaAdmiralac/kockalogger/internal/models"
	"github.com/KockaAdmiralac/kockalogger/internal/modules"
	"github.com/KockaAdmiralac/kockalogger/internal/relay"
	"github.com/KockaAdmiralac/kockalogger/internal/util"
)

func init() {
	modules.Register("activity", func() modules.Module { return &Activity{} })
}

type activityConfig struct {
	Wiki     string `yaml:"wiki"`
	Language string `yaml:"language"`
	Domain   string `yaml:"domain"`
	URL      string `yaml:"url"`
}

// Activity posts a compact line per event on its configured wiki.
type Activity struct {
	cfg    activityConfig
	sink   relay.Sink
	logger zerolog.Logger
}

func (a *Activity) Name() string {
	return "activity"
}

func (a *Activity) Setup(env *modules.Env) error {
	if err := env.Config.Decode(&a.cfg); err != nil {
		return fmt.Errorf("decode activity config: %w", err)
	}
	if a.cfg.URL == "" {
		return fmt.Errorf("activity module requires a webhook url")
	}
	if a.cfg.Language == "" {
		a.cfg.Language = models.DefaultLanguage
	}
	if a.cfg.Domain == "" {
		a.cfg.Domain = models.DefaultDomain
	}
	a.sink = relay.NewWebhook(a.cfg.URL, env.Logger)
	a.logger = env.Logger.With().Str("module", "activity").Logger()
	return nil
}

func (a *Activity) Interested(m *models.Message) (bool, []string) {
	if m.IsError() {
		return false, nil
	}
	if m.Wiki != a.cfg.Wiki || m.Language != a.cfg.Language || m.Domain != a.cfg.Domain {
		return false, nil
	}
	if m.Type == models.TypeLog && m.Log == "thread" && m.Page != "" {
		return true, []string{modules.PropThreadTitle}
	}
	return true, nil
}

func (a *Activity) Execute(ctx context.Context, m *models.Message) error {
	return a.sink.Send(ctx, []byte(format(m)))
}

func (a *Activity) Kill() error {
	return a.sink.Close()
}

// format renders one event as a single webhook-safe line.
func format(m *models.Message) string {
	user := util.EscapeMarkdown(m.User)
	switch m.Type {
	case models.TypeEdit:
		summary := ""
		if m.Summary != "" {
			summary = fmt.Sprintf(" (*%s*)", util.EscapeMarkdown(m.Summary))
		}
		return fmt.Sprintf("%s edited **%s** [%+d]%s",
			user, util.EscapeMarkdown(m.Page), m.Diff, summary)
	case models.TypeLog:
		subject := m.Page
		if subject == "" {
			subject = m.Target
		}
		if m.Log == "thread" && m.ThreadTitle != "" {
			subject = m.ThreadTitle
		}
		line := fmt.Sprintf("%s: %s/%s", user, m.Log, m.Action)
		if subject != "" {
			line += " on **" + util.EscapeMarkdown(subject) + "**"
		}
		if m.Reason != "" {
			line += fmt.Sprintf(" (*%s*)", util.EscapeMarkdown(m.Reason))
		}
		return line
	case models.TypeDiscussions:
		title := m.Title
		if title == "" {
			title = m.Page
		}
		line := fmt.Sprintf("%s %s a %s %s", user, m.Action, m.Platform, m.DType)
		if title != "" {
			line += " on **" + util.EscapeMarkdown(title) + "**"
		}
		if m.Snippet != "" {
			snippet := m.Snippet
			if len(snippet) > 200 {
				snippet = snippet[:200] + "…"
			}
			line += ": " + util.EscapeMarkdown(snippet)
		}
		return line
	}
	return strings.TrimSpace(fmt.Sprintf("%s %s", user, m.Type))
}

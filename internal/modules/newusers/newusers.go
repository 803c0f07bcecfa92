// Package newusers tracks account registrations. Each registration arms a
// 30-minute debounce bit in the enrichment cache; the bit's expiration is
// the trigger for the follow-up notification, giving the new profile time to
// be filled in before anyone looks at it.
package newusers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/KockaAdmiralac/kockalogger/internal/cache"
	"github.com/KockaAdmiralac/kockalogger/internal/models"
	"github.com/KockaAdmiralac/kockalogger/internal/modules"
	"github.com/KockaAdmiralac/kockalogger/internal/relay"
	"github.com/KockaAdmiralac/kockalogger/internal/util"
)

func init() {
	modules.Register("newusers", func() modules.Module { return &NewUsers{} })
}

type newusersConfig struct {
	URL string `yaml:"url"`
}

// NewUsers registers the debounce bits and relays the expiry follow-ups.
type NewUsers struct {
	cfg    newusersConfig
	cache  *cache.Enrichment
	sink   relay.Sink
	logger zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (n *NewUsers) Name() string {
	return "newusers"
}

func (n *NewUsers) Setup(env *modules.Env) error {
	if err := env.Config.Decode(&n.cfg); err != nil {
		return fmt.Errorf("decode newusers config: %w", err)
	}
	if n.cfg.URL == "" {
		return fmt.Errorf("newusers module requires a webhook url")
	}
	n.cache = env.Cache
	n.sink = relay.NewWebhook(n.cfg.URL, env.Logger)
	n.logger = env.Logger.With().Str("module", "newusers").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	expired := n.cache.SubscribeExpired(ctx)
	n.wg.Add(1)
	go n.consumeExpired(ctx, expired)
	return nil
}

func (n *NewUsers) Interested(m *models.Message) (bool, []string) {
	return m.Type == models.TypeLog && m.Log == "newusers", nil
}

// Execute arms the follow-up bit. A registration already inside the window
// is a duplicate feed line and is dropped.
func (n *NewUsers) Execute(ctx context.Context, m *models.Message) error {
	key := cache.NewusersKey(m.User, m.Wiki, m.Language, m.Domain)
	exists, err := n.cache.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check registration bit: %w", err)
	}
	if exists {
		return nil
	}
	return n.cache.SetBit(ctx, key, cache.NewusersTTL)
}

func (n *NewUsers) Kill() error {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
	return n.sink.Close()
}

// consumeExpired turns expired registration bits into follow-up messages.
func (n *NewUsers) consumeExpired(ctx context.Context, expired <-chan string) {
	defer n.wg.Done()
	for key := range expired {
		user, wiki, language, domain, ok := splitKey(key)
		if !ok {
			n.logger.Warn().Str("key", key).Msg("Unparseable expired key")
			continue
		}
		text := fmt.Sprintf("New user **%s** on %s",
			util.EscapeMarkdown(user), util.URL(wiki, language, domain))
		if err := n.sink.Send(ctx, []byte(text)); err != nil {
			n.logger.Error().Err(err).Str("user", user).Msg("Follow-up send failed")
		}
	}
}

// splitKey decomposes newusers:{user}:{wiki}:{lang}:{domain}. The user name
// may itself contain colons, so the tail fields split from the right.
func splitKey(key string) (user, wiki, language, domain string, ok bool) {
	rest, found := strings.CutPrefix(key, "newusers:")
	if !found {
		return "", "", "", "", false
	}
	parts := strings.Split(rest, ":")
	if len(parts) < 4 {
		return "", "", "", "", false
	}
	tail := len(parts)
	return strings.Join(parts[:tail-3], ":"), parts[tail-3], parts[tail-2], parts[tail-1], true
}

// Package irc maintains the connection to the WikiaRC feed server, joins the
// three feed channels and hands their lines to the decoder. Disconnects are
// retried with exponential backoff until the retry budget runs out.
package irc

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/cenkalti/backoff.v1"
	irc "gopkg.in/irc.v4"

	"github.com/KockaAdmiralac/kockalogger/internal/config"
	"github.com/KockaAdmiralac/kockalogger/internal/decoder"
	"github.com/KockaAdmiralac/kockalogger/internal/metrics"
	"github.com/KockaAdmiralac/kockalogger/internal/models"
)

const maxReconnectInterval = 5 * time.Minute

// Client is the feed connection. Lines from unexpected senders are dropped;
// the feed bots are the only trusted sources.
type Client struct {
	cfg    config.Client
	dec    *decoder.Decoder
	logger zerolog.Logger

	// channels maps the IRC channel name to the feed it carries; users maps
	// the feed to its trusted bot nick.
	channels map[string]models.Channel
	users    map[models.Channel]string

	healthy atomic.Bool
}

// New creates a client feeding the decoder.
func New(cfg config.Client, dec *decoder.Decoder, logger zerolog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		dec:    dec,
		logger: logger.With().Str("component", "irc").Logger(),
		channels: map[string]models.Channel{
			cfg.Channels.RC:          models.ChannelRC,
			cfg.Channels.Discussions: models.ChannelDiscussions,
			cfg.Channels.Newusers:    models.ChannelNewusers,
		},
		users: map[models.Channel]string{
			models.ChannelRC:          cfg.Users.RC,
			models.ChannelDiscussions: cfg.Users.Discussions,
			models.ChannelNewusers:    cfg.Users.Newusers,
		},
	}
}

// Healthy reports whether the connection is registered on the feed server.
func (c *Client) Healthy() bool {
	return c.healthy.Load()
}

// Run connects and reconnects until ctx is cancelled or the retry budget is
// exhausted. A successful registration resets the budget.
func (c *Client) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = maxReconnectInterval
	b.MaxElapsedTime = 0

	attempts := 0
	for {
		registered, err := c.connect(ctx)
		c.healthy.Store(false)
		if ctx.Err() != nil {
			return nil
		}
		if registered {
			attempts = 0
			b.Reset()
		}
		attempts++
		if attempts > c.cfg.Retries {
			return fmt.Errorf("giving up after %d failed connection attempts: %w", attempts, err)
		}
		metrics.IRCReconnectsTotal.WithLabelValues().Inc()
		wait := b.NextBackOff()
		c.logger.Warn().Err(err).
			Int("attempt", attempts).
			Dur("wait", wait).
			Msg("Disconnected from feed server, reconnecting")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		}
	}
}

// connect runs one connection until it drops. It reports whether registration
// completed, so the caller knows whether to reset the retry budget.
func (c *Client) connect(ctx context.Context) (bool, error) {
	addr := net.JoinHostPort(c.cfg.Server, fmt.Sprintf("%d", c.cfg.Port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	var registered atomic.Bool
	client := irc.NewClient(conn, irc.ClientConfig{
		Nick: c.cfg.Nick,
		User: c.cfg.Username,
		Name: c.cfg.Realname,
		Handler: irc.HandlerFunc(func(cl *irc.Client, m *irc.Message) {
			c.handle(cl, m, &registered)
		}),
	})
	c.logger.Info().Str("server", addr).Str("nick", c.cfg.Nick).Msg("Connecting to feed server")
	err = client.RunContext(ctx)
	return registered.Load(), err
}

func (c *Client) handle(cl *irc.Client, m *irc.Message, registered *atomic.Bool) {
	switch m.Command {
	case "001":
		registered.Store(true)
		c.healthy.Store(true)
		c.logger.Info().Msg("Registered, joining feed channels")
		for channel := range c.channels {
			cl.Write("JOIN " + channel)
		}
	case "PRIVMSG":
		if len(m.Params) == 0 {
			return
		}
		feed, ok := c.channels[m.Params[0]]
		if !ok {
			return
		}
		if m.Prefix == nil || m.Prefix.Name != c.users[feed] {
			c.logger.Debug().
				Str("channel", m.Params[0]).
				Str("sender", senderName(m)).
				Msg("Dropping line from untrusted sender")
			return
		}
		c.dec.Feed(feed, m.Trailing())
	}
}

func senderName(m *irc.Message) string {
	if m.Prefix == nil {
		return ""
	}
	return m.Prefix.Name
}

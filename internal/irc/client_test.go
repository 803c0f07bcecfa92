package irc

import (
	"testing"

	"github.com/rs/zerolog"
	irc "gopkg.in/irc.v4"

	"github.com/KockaAdmiralac/kockalogger/internal/config"
	"github.com/KockaAdmiralac/kockalogger/internal/decoder"
	"github.com/KockaAdmiralac/kockalogger/internal/loader"
	"github.com/KockaAdmiralac/kockalogger/internal/models"
	"github.com/KockaAdmiralac/kockalogger/internal/parser"
)

func testClient(t *testing.T) (*Client, *[]*models.Message) {
	t.Helper()
	cfg := config.Client{
		Nick: "TestBot",
		Channels: config.Channels{
			RC:          "#wikia-rc",
			Discussions: "#wikia-discussions",
			Newusers:    "#wikia-newusers",
		},
		Users: config.Channels{
			RC:          "rc-pmtpa",
			Discussions: "discussions",
			Newusers:    "newusers",
		},
	}
	var emitted []*models.Message
	dec := decoder.New(parser.New(loader.NewCache(), zerolog.Nop()), zerolog.Nop(), func(m *models.Message) {
		emitted = append(emitted, m)
	})
	return New(cfg, dec, zerolog.Nop()), &emitted
}

func privmsg(sender, channel, text string) *irc.Message {
	return &irc.Message{
		Prefix:  &irc.Prefix{Name: sender, User: sender, Host: "host"},
		Command: "PRIVMSG",
		Params:  []string{channel, text},
	}
}

func TestHandleTrustedSender(t *testing.T) {
	c, emitted := testClient(t)
	line := "Fresh Account New user registration https://test.fandom.com/ newusers"
	c.handle(nil, privmsg("newusers", "#wikia-newusers", line), nil)
	if len(*emitted) != 1 {
		t.Fatalf("emitted = %d", len(*emitted))
	}
	if (*emitted)[0].User != "Fresh Account" {
		t.Errorf("user = %q", (*emitted)[0].User)
	}
}

func TestHandleUntrustedSenderDropped(t *testing.T) {
	c, emitted := testClient(t)
	c.handle(nil, privmsg("impostor", "#wikia-newusers", "spoofed line"), nil)
	if len(*emitted) != 0 {
		t.Fatalf("untrusted sender must be dropped, emitted = %d", len(*emitted))
	}
}

func TestHandleUnknownChannelIgnored(t *testing.T) {
	c, emitted := testClient(t)
	c.handle(nil, privmsg("newusers", "#somewhere-else", "whatever"), nil)
	if len(*emitted) != 0 {
		t.Fatalf("unknown channel must be ignored, emitted = %d", len(*emitted))
	}
}

func TestHandleChannelMapping(t *testing.T) {
	c, emitted := testClient(t)
	// A JSON blob on the discussions channel decodes as a Discussions event.
	c.handle(nil, privmsg("discussions", "#wikia-discussions",
		`{"type":"discussion-thread","url":"https://test.fandom.com/f/p/4400000000000000001"}`), nil)
	if len(*emitted) != 1 {
		t.Fatalf("emitted = %d", len(*emitted))
	}
	if (*emitted)[0].Type != models.TypeDiscussions {
		t.Errorf("type = %q", (*emitted)[0].Type)
	}
}

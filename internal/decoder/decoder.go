// Package decoder reassembles the fragmented feed lines into complete ones
// and hands them to the parser. IRC cuts lines around 450 bytes, so a
// logical RC line may arrive as a canonical head plus overflow tails, and a
// Discussions JSON document may span several lines.
package decoder

import (
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/KockaAdmiralac/kockalogger/internal/metrics"
	"github.com/KockaAdmiralac/kockalogger/internal/models"
	"github.com/KockaAdmiralac/kockalogger/internal/parser"
)

// canonicalPrefix starts every well-formed RC line; a line without it is an
// overflow tail of the previous one.
const canonicalPrefix = "\x0314"

// Decoder buffers fragments per channel and emits complete Messages in the
// order their last fragment arrived. Not safe for concurrent use; the feed
// client calls it from a single goroutine.
type Decoder struct {
	parser *parser.Parser
	logger zerolog.Logger
	emit   func(*models.Message)

	// RC reassembly: head fragment plus any overflow tails.
	pending []string

	// Discussions reassembly.
	jsonBuffer string
	jsonActive bool
}

// New creates a decoder feeding decoded messages to emit.
func New(p *parser.Parser, logger zerolog.Logger, emit func(*models.Message)) *Decoder {
	return &Decoder{
		parser: p,
		logger: logger.With().Str("component", "decoder").Logger(),
		emit:   emit,
	}
}

// Feed consumes one raw line from a channel.
func (d *Decoder) Feed(channel models.Channel, line string) {
	metrics.LinesReceivedTotal.WithLabelValues(string(channel)).Inc()
	switch channel {
	case models.ChannelRC:
		d.feedRC(line)
	case models.ChannelDiscussions:
		d.feedDiscussions(line)
	case models.ChannelNewusers:
		d.dispatch(line, models.ChannelNewusers)
	}
}

// Flush emits whatever is still buffered. Called on shutdown, after the last
// line of the feed.
func (d *Decoder) Flush() {
	if len(d.pending) > 0 {
		d.flushRC()
	}
	if d.jsonActive {
		d.logger.Warn().Str("buffer", d.jsonBuffer).Msg("Discarding incomplete JSON buffer")
		d.jsonBuffer = ""
		d.jsonActive = false
	}
}

func (d *Decoder) feedRC(line string) {
	if strings.HasPrefix(line, canonicalPrefix) {
		if len(d.pending) > 0 {
			d.flushRC()
		}
		d.pending = []string{line}
		return
	}
	if len(d.pending) == 0 {
		d.logger.Warn().Str("line", line).Msg("Overflow tail with no pending line")
		return
	}
	metrics.OverflowJoinsTotal.WithLabelValues().Inc()
	d.pending = append(d.pending, line)
}

// flushRC parses the buffered fragments. MediaWiki sometimes drops the space
// at the chunk boundary, so a failed parse of a fragmented line is retried
// once with single spaces at the joins.
func (d *Decoder) flushRC() {
	fragments := d.pending
	d.pending = nil

	msg := d.parse(strings.Join(fragments, ""), models.ChannelRC)
	if len(fragments) > 1 && joinFailed(msg) {
		if retried := d.parse(strings.Join(fragments, " "), models.ChannelRC); !joinFailed(retried) {
			msg = retried
		}
	}
	d.finish(msg)
}

func joinFailed(msg *models.Message) bool {
	return msg.IsError() &&
		(msg.ErrorCode == models.CodeRCError || msg.ErrorCode == models.CodeLogParseFail)
}

func (d *Decoder) feedDiscussions(line string) {
	if strings.HasPrefix(line, "{") {
		if d.jsonActive {
			d.logger.Warn().Msg("Discarding incomplete JSON buffer")
		}
		d.jsonBuffer = line
		d.jsonActive = true
	} else if d.jsonActive {
		d.jsonBuffer += line
	} else {
		d.logger.Warn().Str("line", line).Msg("Discussions fragment with no open buffer")
		return
	}
	if strings.HasSuffix(line, "}") {
		buffer := d.jsonBuffer
		d.jsonBuffer = ""
		d.jsonActive = false
		d.dispatch(buffer, models.ChannelDiscussions)
	}
}

func (d *Decoder) dispatch(line string, channel models.Channel) {
	d.finish(d.parse(line, channel))
}

func (d *Decoder) parse(line string, channel models.Channel) *models.Message {
	return d.parser.Parse(line, channel)
}

func (d *Decoder) finish(msg *models.Message) {
	msg.TraceID = uuid.NewString()
	if msg.IsError() {
		metrics.ParseErrorsTotal.WithLabelValues(msg.ErrorCode).Inc()
		d.logger.Debug().
			Str("code", msg.ErrorCode).
			Str("trace", msg.TraceID).
			Str("raw", msg.Raw).
			Msg("Parse error")
	} else {
		metrics.MessagesParsedTotal.WithLabelValues(string(msg.Type)).Inc()
	}
	d.emit(msg)
}

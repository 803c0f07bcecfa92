package models

import (
	"encoding/json"
	"fmt"
)

// MessageType discriminates the variants of a decoded feed Message.
type MessageType string

const (
	TypeEdit        MessageType = "edit"
	TypeLog         MessageType = "log"
	TypeDiscussions MessageType = "discussions"
	TypeError       MessageType = "error"
)

// Channel identifies which of the three WikiaRC feeds a line came from.
type Channel string

const (
	ChannelRC          Channel = "rc"
	ChannelDiscussions Channel = "discussions"
	ChannelNewusers    Channel = "newusers"
)

// DefaultDomain is assumed when a wiki URL carries no recognized domain.
const DefaultDomain = "fandom.com"

// DefaultLanguage replaces an empty language capture.
const DefaultLanguage = "en"

// ProtectionLevel is one [feature=level] (expiry) triple from a protection
// summary, e.g. {edit, sysop, "indefinite"}.
type ProtectionLevel struct {
	Feature string `json:"feature"`
	Level   string `json:"level"`
	Expiry  string `json:"expiry"`
}

// Message is a single decoded feed event. It is a tagged union over
// {edit, log, discussions, error}; Type selects which field groups are
// meaningful. Zero values of the other groups are omitted from JSON.
type Message struct {
	Type     MessageType `json:"type"`
	TraceID  string      `json:"traceId,omitempty"`
	Raw      string      `json:"raw,omitempty"`
	Wiki     string      `json:"wiki,omitempty"`
	Domain   string      `json:"domain,omitempty"`
	Language string      `json:"language,omitempty"`
	User     string      `json:"user,omitempty"`

	// Edit fields.
	Page    string         `json:"page,omitempty"`
	Flags   []string       `json:"flags,omitempty"`
	Params  map[string]int `json:"params,omitempty"`
	Diff    int            `json:"diff,omitempty"`
	Summary string         `json:"summary,omitempty"`

	// Log fields. Log is the family (block, delete, move, ...); Action is
	// the feed's action token within it. The rest are family-specific.
	Log        string            `json:"log,omitempty"`
	Action     string            `json:"action,omitempty"`
	Target     string            `json:"target,omitempty"`
	Expiry     string            `json:"expiry,omitempty"`
	BlockFlags []string          `json:"blockFlags,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Revision   int               `json:"revision,omitempty"`
	Levels     []ProtectionLevel `json:"levels,omitempty"`
	OldGroups  []string          `json:"oldGroups,omitempty"`
	NewGroups  []string          `json:"newGroups,omitempty"`
	File       string            `json:"file,omitempty"`
	Feature    string            `json:"feature,omitempty"`
	Value      bool              `json:"value,omitempty"`
	FilterID   int               `json:"filterId,omitempty"`
	Length     string            `json:"length,omitempty"`
	Expires    string            `json:"expires,omitempty"`
	Namespace  int               `json:"namespace,omitempty"`

	// Enriched fields, attached by the dispatcher on demand.
	PageTitle   string `json:"pageTitle,omitempty"`
	ThreadID    string `json:"threadId,omitempty"`
	ThreadTitle string `json:"threadTitle,omitempty"`

	// Discussions fields.
	Platform string `json:"platform,omitempty"`
	DType    string `json:"dtype,omitempty"`
	Title    string `json:"title,omitempty"`
	Snippet  string `json:"snippet,omitempty"`
	Size     int    `json:"size,omitempty"`
	Category string `json:"category,omitempty"`
	URL      string `json:"url,omitempty"`
	Thread   string `json:"thread,omitempty"`
	Reply    string `json:"reply,omitempty"`

	// Error fields.
	ErrorCode    string         `json:"errorCode,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// IsError reports whether the message was promoted to the error variant.
func (m *Message) IsError() bool {
	return m.Type == TypeError
}

// OverrideKey is the per-wiki message-override slot key, shared by the
// compiled cache, the retry fetcher's single-flight and the dispatcher.
func (m *Message) OverrideKey() string {
	return OverrideKey(m.Language, m.Wiki, m.Domain)
}

// OverrideKey builds the {language}:{wiki}:{domain} cache slot key.
func OverrideKey(language, wiki, domain string) string {
	return fmt.Sprintf("%s:%s:%s", language, wiki, domain)
}

// ToJSON marshals the message for relaying. A marshal failure yields an
// empty object rather than a nil slice.
func (m *Message) ToJSON() []byte {
	data, err := json.Marshal(m)
	if err != nil {
		return []byte("{}")
	}
	return data
}

// Promote converts the message in place into an error Message, keeping Raw
// and the feed coordinates so downstream consumers can still attribute it.
func (m *Message) Promote(code, errMsg string, details map[string]any) *Message {
	m.Type = TypeError
	m.ErrorCode = code
	m.ErrorMessage = errMsg
	m.Details = details
	return m
}

// ErrorMessage builds a standalone error Message for failures that happen
// before any fields could be decoded.
func ErrorMessage(raw, code, errMsg string, details map[string]any) *Message {
	return &Message{
		Type:         TypeError,
		Raw:          raw,
		ErrorCode:    code,
		ErrorMessage: errMsg,
		Details:      details,
	}
}

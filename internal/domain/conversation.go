package domain

import (
	"encoding/json"
	"strings"

	"github.com/zeroatsteel/zero-agent/pkg/textx"
)

// SessionTitleLen bounds the listing title of a session.
const SessionTitleLen = 80

// Message roles.
const (
	RoleUserMsg      = "user"
	RoleAssistantMsg = "assistant"
)

// Content block types.
const (
	BlockText  = "text"
	BlockImage = "image"
)

// Message is one conversation turn. The JSON shape matches what browsers replay as history.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// UnmarshalJSON also accepts a plain string as content, which some clients
// send for text-only turns.
func (m *Message) UnmarshalJSON(b []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	m.Content = nil
	if len(raw.Content) == 0 || string(raw.Content) == "null" {
		return nil
	}
	var text string
	if err := json.Unmarshal(raw.Content, &text); err == nil {
		m.Content = []ContentBlock{{Type: BlockText, Text: text}}
		return nil
	}
	return json.Unmarshal(raw.Content, &m.Content)
}

// ContentBlock is either a text block or a base64 image block.
type ContentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *ImageSource `json:"source,omitempty"`
}

// ImageSource holds inline image data.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// TextMessage builds a single text block message.
func TextMessage(role, text string) Message {
	return Message{Role: role, Content: []ContentBlock{{Type: BlockText, Text: text}}}
}

// ImageBlock builds a base64 image block.
func ImageBlock(mediaType, data string) ContentBlock {
	return ContentBlock{Type: BlockImage, Source: &ImageSource{Type: "base64", MediaType: mediaType, Data: data}}
}

// Text concatenates the text blocks of m.
func (m Message) Text() string {
	var b strings.Builder
	for _, c := range m.Content {
		if c.Type == BlockText || (c.Type == "" && c.Text != "") {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// FirstText returns the first text block, used for session titles.
func (m Message) FirstText() string {
	for _, c := range m.Content {
		if c.Text != "" {
			return c.Text
		}
	}
	return ""
}

// Verdict is the validator's judgement of one answer.
type Verdict struct {
	Status   string   `json:"status"`
	Critique string   `json:"critique"`
	Needs    []string `json:"needs"`
}

// Passed reports whether the verdict status is "pass", case-insensitively.
func (v Verdict) Passed() bool { return strings.EqualFold(strings.TrimSpace(v.Status), "pass") }

// Round is one generate+validate cycle.
type Round struct {
	Index   int     `json:"index"`
	Text    string  `json:"claude"`
	Verdict Verdict `json:"validator"`
}

// SessionTitle is the opening text of the first user turn, cut to SessionTitleLen runes.
func SessionTitle(msgs []Message) string {
	for _, m := range msgs {
		if m.Role == RoleUserMsg && len(m.Content) > 0 && m.Content[0].Text != "" {
			return textx.Truncate(m.Content[0].Text, SessionTitleLen)
		}
	}
	return ""
}

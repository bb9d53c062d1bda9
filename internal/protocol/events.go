// Package protocol defines the Server-Sent Events exchanged on
// POST /chat/stream. Each event is framed as "data: <json>\n\n".
package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

type EventType string

const (
	EventToken          EventType = "token"
	EventResources      EventType = "resources"
	EventRiskAssessment EventType = "risk_assessment"
	EventCrisisAlert    EventType = "crisis_alert"
	EventTitleUpdated   EventType = "title_updated"
	EventDone           EventType = "done"
	EventError          EventType = "error"
)

// Message is the confirmed, server-side representation of one turn.
type Message struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	TokenCount *int           `json:"token_count,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Resource is a support link attached by the risk classifier.
type Resource struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// Event is the union of all stream payloads; Type selects which fields
// are meaningful.
type Event struct {
	Type             EventType  `json:"type"`
	Content          string     `json:"content,omitempty"`
	Resources        []Resource `json:"resources,omitempty"`
	RiskLevel        string     `json:"risk_level,omitempty"`
	Message          string     `json:"message,omitempty"`
	Title            string     `json:"title,omitempty"`
	UserMessage      *Message   `json:"userMessage,omitempty"`
	AssistantMessage *Message   `json:"assistantMessage,omitempty"`
	TokensUsed       *int       `json:"tokensUsed,omitempty"`
	Error            string     `json:"error,omitempty"`
}

func Token(content string) Event { return Event{Type: EventToken, Content: content} }

func Resources(rs []Resource, riskLevel string) Event {
	return Event{Type: EventResources, Resources: rs, RiskLevel: riskLevel}
}

func RiskAssessment(level string) Event { return Event{Type: EventRiskAssessment, RiskLevel: level} }

func CrisisAlert(msg string) Event { return Event{Type: EventCrisisAlert, Message: msg} }

func TitleUpdated(title string) Event { return Event{Type: EventTitleUpdated, Title: title} }

// Done always carries tokensUsed, zero included.
func Done(user, assistant Message, tokensUsed int) Event {
	return Event{Type: EventDone, UserMessage: &user, AssistantMessage: &assistant, TokensUsed: &tokensUsed}
}

// Tokens returns the done frame's token count, or 0 when absent.
func (e Event) Tokens() int {
	if e.TokensUsed == nil {
		return 0
	}
	return *e.TokensUsed
}

func Error(msg string) Event { return Event{Type: EventError, Error: msg} }

// Terminal reports whether no further events follow e.
func (e Event) Terminal() bool { return e.Type == EventDone || e.Type == EventError }

// Encode writes e as one SSE frame.
func Encode(w io.Writer, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}

// Heartbeat writes an SSE comment; clients ignore it.
func Heartbeat(w io.Writer) error {
	_, err := io.WriteString(w, ": ping\n\n")
	return err
}

// Decoder reads frames produced by Encode. Comment lines and unknown
// fields are skipped.
type Decoder struct {
	br *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{br: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next event, or io.EOF when the stream ends cleanly.
func (d *Decoder) Next() (Event, error) {
	var data [][]byte
	for {
		line, err := d.br.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return Event{}, err
		}
		eof := errors.Is(err, io.EOF)
		line = bytes.TrimRight(line, "\r\n")

		switch {
		case len(line) == 0:
			if len(data) > 0 {
				return decodeData(data)
			}
		case line[0] == ':':
		case bytes.HasPrefix(line, []byte("data:")):
			data = append(data, bytes.TrimSpace(line[len("data:"):]))
		}

		if eof {
			if len(data) > 0 {
				return decodeData(data)
			}
			return Event{}, io.EOF
		}
	}
}

func decodeData(lines [][]byte) (Event, error) {
	var ev Event
	payload := bytes.Join(lines, []byte("\n"))
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event %q: %w", truncate(string(payload), 120), err)
	}
	return ev, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

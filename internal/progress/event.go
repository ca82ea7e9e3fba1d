package progress

import (
	"errors"
	"fmt"
	"time"
)

// Name identifies the kind of event on the stream.
type Name string

// Event names written to the stream.
const (
	NameProgress    Name = "progress"
	NameAsyncPrompt Name = "asyncPrompt"
	NameResult      Name = "result"
	NameCancelled   Name = "cancelled"
	NameError       Name = "error"
)

// Terminal reports whether n ends a session's stream.
func (n Name) Terminal() bool {
	switch n {
	case NameResult, NameCancelled, NameError:
		return true
	default:
		return false
	}
}

// ProgressData is the payload of a progress event.
type ProgressData struct {
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// MessageData is the payload of asyncPrompt and cancelled events.
type MessageData struct {
	Message string `json:"message"`
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Event is one entry on a session stream.
type Event struct {
	SessionID string
	Name      Name
	TS        time.Time
	// Data is marshalled to JSON as the event body.
	Data any
}

// Validate performs coarse validation before an event is fanned out.
func (e Event) Validate() error {
	if e.SessionID == "" {
		return errors.New("session id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Name {
	case NameProgress:
		p, ok := e.Data.(ProgressData)
		if !ok {
			return fmt.Errorf("progress event carries %T", e.Data)
		}
		if p.Percent < 0 || p.Percent > 100 {
			return fmt.Errorf("percent %d out of range", p.Percent)
		}
	case NameAsyncPrompt, NameCancelled, NameResult, NameError:
	default:
		return fmt.Errorf("unknown event %q", e.Name)
	}
	if e.Data == nil {
		return errors.New("data is required")
	}
	return nil
}

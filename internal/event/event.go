// Package event defines the relay's own stream protocol. It is the stable
// contract between the relay and its clients and is deliberately independent
// of any upstream provider schema.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// Stage tags the variant of an Event.
type Stage string

const (
	StageCode  Stage = "code"
	StageDone  Stage = "done"
	StageError Stage = "error"
)

// DataPrefix starts every SSE data line.
const DataPrefix = "data:"

// Event is one relay frame. Only the fields of its Stage are populated.
type Event struct {
	Stage     Stage     `json:"stage"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
	Error     string    `json:"error,omitempty"`
}

// Code returns a code fragment event.
func Code(content string) Event { return Event{Stage: StageCode, Content: content} }

// Done returns the successful terminal event.
func Done(at time.Time) Event { return Event{Stage: StageDone, Timestamp: at.UTC()} }

// Failure returns the failed terminal event.
func Failure(msg string) Event { return Event{Stage: StageError, Error: msg} }

// Terminal reports whether e ends a stream.
func (e Event) Terminal() bool { return e.Stage == StageDone || e.Stage == StageError }

// JSON returns the bare JSON payload of e, as sent on message-framed
// transports.
func JSON(e Event) ([]byte, error) { return json.Marshal(e) }

// Marshal returns the SSE frame for e: "data: <json>\n\n".
func Marshal(e Event) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(b)+8)
	out = append(out, "data: "...)
	out = append(out, b...)
	out = append(out, '\n', '\n')
	return out, nil
}

// Encode writes the SSE frame for e to w.
func Encode(w io.Writer, e Event) error {
	b, err := Marshal(e)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ErrUnknownStage is returned by Decode for payloads with an unrecognized stage.
var ErrUnknownStage = errors.New("event: unknown stage")

// Decode parses one line of a relay stream. ok is false for lines that are
// not data lines (blank separators, comments). A data line with a malformed
// payload returns an error; callers skip it and keep reading.
func Decode(line []byte) (e Event, ok bool, err error) {
	line = bytes.TrimSpace(line)
	if !bytes.HasPrefix(line, []byte(DataPrefix)) {
		return Event{}, false, nil
	}
	payload := bytes.TrimSpace(line[len(DataPrefix):])
	if err := json.Unmarshal(payload, &e); err != nil {
		return Event{}, true, fmt.Errorf("event: decode %q: %w", truncate(payload, 64), err)
	}
	switch e.Stage {
	case StageCode, StageDone, StageError:
		return e, true, nil
	default:
		return Event{}, true, fmt.Errorf("%w %q", ErrUnknownStage, e.Stage)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Package reframe converts an OpenAI-compatible chat completion SSE byte
// stream into relay events.
package reframe

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gaspardpetit/uigen/internal/event"
)

const (
	// DoneSentinel is the provider's own end-of-stream marker. It is swallowed.
	DoneSentinel = "[DONE]"
	// StopReason is the finish_reason that marks a completed generation.
	StopReason = "stop"
	// DefaultMaxLineBytes caps a pending partial line.
	DefaultMaxLineBytes = 1 << 20
)

// ErrLineTooLong is returned when the upstream sends more than MaxLineBytes
// without a newline.
var ErrLineTooLong = errors.New("reframe: upstream line exceeds limit")

// Options configures a Reframer. The zero value is usable.
type Options struct {
	// MaxLineBytes bounds the decode buffer; <= 0 selects DefaultMaxLineBytes.
	MaxLineBytes int
	// Now stamps Done events; defaults to time.Now.
	Now func() time.Time
	// OnSkip is called for every data line whose payload cannot be decoded.
	OnSkip func(payload []byte, err error)
}

// Reframer holds the decode buffer for one upstream stream. It is not safe
// for concurrent use; create one per request.
type Reframer struct {
	buf    []byte
	max    int
	now    func() time.Time
	onSkip func([]byte, error)
}

// New returns a Reframer configured by opts.
func New(opts Options) *Reframer {
	r := &Reframer{max: opts.MaxLineBytes, now: opts.Now, onSkip: opts.OnSkip}
	if r.max <= 0 {
		r.max = DefaultMaxLineBytes
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Pending returns the number of buffered bytes not yet terminated by a newline.
func (r *Reframer) Pending() int { return len(r.buf) }

// Feed appends chunk to the decode buffer and returns the events produced by
// every complete line, in arrival order. The trailing partial line is kept
// for the next call. Lines are split on the '\n' byte, which never occurs
// inside a multi-byte UTF-8 sequence, so characters split across chunks are
// reassembled intact.
func (r *Reframer) Feed(chunk []byte) ([]event.Event, error) {
	r.buf = append(r.buf, chunk...)
	var out []event.Event
	start := 0
	for {
		i := bytes.IndexByte(r.buf[start:], '\n')
		if i < 0 {
			break
		}
		out = append(out, r.line(r.buf[start:start+i]).events...)
		start += i + 1
	}
	if start > 0 {
		n := copy(r.buf, r.buf[start:])
		r.buf = r.buf[:n]
	}
	if len(r.buf) > r.max {
		r.buf = nil
		return out, fmt.Errorf("%w (%d bytes)", ErrLineTooLong, r.max)
	}
	return out, nil
}

// Flush processes a final line left without a terminating newline when the
// upstream closed, and empties the buffer.
func (r *Reframer) Flush() []event.Event {
	if len(r.buf) == 0 {
		return nil
	}
	res := r.line(r.buf)
	r.buf = nil
	return res.events
}

// lineResult is the outcome of one upstream line: zero or more events, or a
// skip marker carrying the decode failure. Skips never leave this package.
type lineResult struct {
	events  []event.Event
	skipped error
}

// delta mirrors the subset of a chat.completion.chunk the relay consumes.
type delta struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (r *Reframer) line(raw []byte) lineResult {
	l := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(l, []byte(event.DataPrefix)) {
		return lineResult{}
	}
	payload := bytes.TrimSpace(l[len(event.DataPrefix):])
	if len(payload) == 0 || string(payload) == DoneSentinel {
		return lineResult{}
	}
	var d delta
	if err := json.Unmarshal(payload, &d); err != nil {
		if r.onSkip != nil {
			r.onSkip(payload, err)
		}
		return lineResult{skipped: err}
	}
	var res lineResult
	if d.Error != nil {
		msg := d.Error.Message
		if msg == "" {
			msg = "upstream reported an error"
		}
		res.events = append(res.events, event.Failure(msg))
		return res
	}
	if len(d.Choices) == 0 {
		return res
	}
	c := d.Choices[0]
	if c.Delta.Content != "" {
		res.events = append(res.events, event.Code(c.Delta.Content))
	}
	if c.FinishReason == StopReason {
		res.events = append(res.events, event.Done(r.now()))
	}
	return res
}

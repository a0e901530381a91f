package reframe

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/gaspardpetit/uigen/internal/event"
)

const readSize = 32 * 1024

// Stream pulls events from an upstream body. Next returns io.EOF once the
// upstream is exhausted and every buffered event has been returned.
type Stream struct {
	r       io.Reader
	rf      *Reframer
	buf     []byte
	pending []event.Event
	err     error
	reads   int
}

// NewStream wraps r, typically an upstream HTTP response body.
func NewStream(r io.Reader, opts Options) *Stream {
	return &Stream{r: r, rf: New(opts), buf: make([]byte, readSize)}
}

// Reads returns how many reads were issued against the underlying reader.
func (s *Stream) Reads() int { return s.reads }

// Next returns the next event. A deadline hit while reading is treated as an
// ordinary end of data: the platform budget closing a stalled upstream is not
// a transport failure. Cancellation errors are returned unchanged.
func (s *Stream) Next() (event.Event, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		if s.err != nil {
			return event.Event{}, s.err
		}
		s.fill()
	}
}

func (s *Stream) fill() {
	n, err := s.r.Read(s.buf)
	s.reads++
	if n > 0 {
		evs, ferr := s.rf.Feed(s.buf[:n])
		s.pending = append(s.pending, evs...)
		if ferr != nil {
			s.err = ferr
			return
		}
	}
	if err == nil {
		return
	}
	if err == io.EOF || isDeadline(err) {
		s.pending = append(s.pending, s.rf.Flush()...)
		s.err = io.EOF
		return
	}
	s.err = err
}

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded)
}

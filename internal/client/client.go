// Package client consumes the relay's event stream and accumulates the
// generated component source.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/gaspardpetit/uigen/internal/apierror"
	"github.com/gaspardpetit/uigen/internal/event"
)

// ErrCanceled is returned when the caller stops a generation. It is not a
// failure and should not be shown to users as one.
var ErrCanceled = errors.New("generation stopped")

// ErrTimeout is returned when the caller's deadline expires before the
// stream ends. It matches context.DeadlineExceeded.
var ErrTimeout = fmt.Errorf("generation timed out: %w", context.DeadlineExceeded)

// NoCodeMessage is reported when a stream ends without any code.
const NoCodeMessage = "No code was generated"

// GenerationError is an error event received from the relay.
type GenerationError struct {
	Message string
}

func (e *GenerationError) Error() string { return e.Message }

// Result is the outcome of a generation.
type Result struct {
	Code         string
	Done         bool
	GenerationID string
}

// Client talks to a uigen relay.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Log     zerolog.Logger
	// MaxLineBytes bounds one relay line; <= 0 means 1 MiB.
	MaxLineBytes int
}

// New returns a Client for baseURL.
func New(baseURL string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: http.DefaultClient, Log: zerolog.Nop()}
}

// Generate requests a component for prompt and streams it into acc, calling
// onUpdate with the whole buffer after every code fragment. A nil acc uses
// a fresh Accumulator; onUpdate may be nil.
func (c *Client) Generate(ctx context.Context, prompt string, acc *Accumulator, onUpdate func(string)) (Result, error) {
	if acc == nil {
		acc = &Accumulator{}
	}
	acc.Reset()

	body, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, stopped(ctx)
		}
		return Result{}, fmt.Errorf("generate request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Result{}, statusError(resp)
	}

	res := Result{GenerationID: resp.Header.Get("X-Generation-Id")}
	max := c.MaxLineBytes
	if max <= 0 {
		max = 1 << 20
	}
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), max)
	for sc.Scan() {
		ev, ok, err := event.Decode(sc.Bytes())
		if err != nil {
			c.Log.Warn().Err(err).Msg("skipping malformed relay line")
			continue
		}
		if !ok {
			continue
		}
		switch ev.Stage {
		case event.StageCode:
			buf := acc.Append(ev.Content)
			if onUpdate != nil {
				onUpdate(buf)
			}
		case event.StageError:
			res.Code = acc.String()
			return res, &GenerationError{Message: ev.Error}
		case event.StageDone:
			res.Code = acc.Finalize()
			res.Done = true
			return res, nil
		}
	}
	if ctx.Err() != nil {
		res.Code = acc.String()
		return res, stopped(ctx)
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		res.Code = acc.String()
		return res, fmt.Errorf("read relay stream: %w", err)
	}
	res.Code = acc.String()
	if res.Code == "" {
		return res, &GenerationError{Message: NoCodeMessage}
	}
	return res, nil
}

func stopped(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ErrCanceled
}

func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(b, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(b))
		if body.Error == "" {
			body.Error = http.StatusText(resp.StatusCode)
		}
	}
	kind := apierror.Internal
	switch resp.StatusCode {
	case http.StatusBadRequest:
		kind = apierror.InvalidRequest
	case http.StatusServiceUnavailable:
		kind = apierror.Unavailable
	}
	return &apierror.Error{Kind: kind, Message: body.Error, Err: fmt.Errorf("relay returned %d", resp.StatusCode)}
}

// Package relay drives one generation: it opens the upstream completion,
// re-frames its SSE body and hands relay events to a transport.
package relay

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gaspardpetit/uigen/internal/apierror"
	"github.com/gaspardpetit/uigen/internal/config"
	"github.com/gaspardpetit/uigen/internal/event"
	"github.com/gaspardpetit/uigen/internal/inflight"
	"github.com/gaspardpetit/uigen/internal/metrics"
	"github.com/gaspardpetit/uigen/internal/reframe"
	"github.com/gaspardpetit/uigen/internal/serverstate"
	"github.com/gaspardpetit/uigen/internal/upstream"
)

// User-facing messages.
const (
	MsgPromptRequired = "Prompt is required"
	MsgPromptTooLong  = "Prompt is too long"
	MsgNoAPIKey       = "API key not configured. Please add CEREBRAS_API_KEY to your environment variables."
	MsgDraining       = "server is draining"
	MsgNoCode         = "No code was generated"
	MsgLineTooLong    = "Upstream response line too long"
	MsgInterrupted    = "Upstream stream interrupted"
)

// Opener opens a streamed completion. *upstream.Client implements it.
type Opener interface {
	Stream(ctx context.Context, prompt string) (io.ReadCloser, error)
}

// Deps are the collaborators of a Relay. Zero-valued optional fields are
// replaced with working defaults by New.
type Deps struct {
	Config   *config.ServerConfig
	Upstream Opener
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
	Inflight *inflight.Counter
	State    *serverstate.Tracker
	Clock    func() time.Time
}

// Relay starts generations.
type Relay struct {
	d Deps
}

// New returns a Relay using d.
func New(d Deps) *Relay {
	if d.Config == nil {
		d.Config = &config.ServerConfig{}
		d.Config.SetDefaults()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.Inflight == nil {
		d.Inflight = &inflight.Counter{}
	}
	if d.State == nil {
		d.State = serverstate.NewTracker(nil)
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return &Relay{d: d}
}

// Deps returns the collaborators the relay was built with.
func (r *Relay) Deps() Deps { return r.d }

// Check validates a request before anything is sent upstream and returns the
// trimmed prompt. Failures are *apierror.Error values.
func (r *Relay) Check(req GenerateRequest) (string, error) {
	if r.d.State.IsDraining() {
		return "", apierror.New(apierror.Unavailable, MsgDraining)
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", apierror.New(apierror.InvalidRequest, MsgPromptRequired)
	}
	if max := r.d.Config.MaxPromptLength; max > 0 && utf8.RuneCountInString(prompt) > max {
		return "", apierror.New(apierror.InvalidRequest, MsgPromptTooLong)
	}
	if r.d.Config.UpstreamAPIKey == "" || r.d.Upstream == nil {
		return "", apierror.New(apierror.Misconfigured, MsgNoAPIKey)
	}
	return prompt, nil
}

// Reject records a request refused by Check.
func (r *Relay) Reject(err error) {
	r.d.Metrics.GenerationRejected(r.d.Config.Model)
	ev := r.d.Logger.Info()
	if apierror.KindOf(err) == apierror.Misconfigured {
		ev = r.d.Logger.Error()
	}
	ev.Str("kind", apierror.KindOf(err).String()).Msg(err.Error())
}

// Open starts a generation for an already checked prompt. The upstream
// request is bound to ctx and to the configured request timeout. On success
// the caller must Close the returned Generation.
func (r *Relay) Open(ctx context.Context, prompt string) (*Generation, error) {
	id := uuid.NewString()
	log := r.d.Logger.With().Str("generation_id", id).Logger()
	start := r.d.Clock()

	parent := ctx
	ctx, cancel := context.WithCancel(parent)
	if t := r.d.Config.RequestTimeout; t > 0 {
		ctx, cancel = withTimeout(ctx, cancel, t)
	}

	r.d.Inflight.Inc()
	r.d.Metrics.GenerationStarted()
	body, err := r.d.Upstream.Stream(ctx, prompt)
	if err != nil {
		aborted := errors.Is(parent.Err(), context.Canceled)
		cancel()
		r.d.Inflight.Dec()
		if aborted {
			r.d.Metrics.GenerationFinished(r.d.Config.Model, metrics.OutcomeCancelled, r.d.Clock().Sub(start), 0)
			log.Debug().Err(err).Msg("client went away before upstream answered")
			return nil, apierror.Wrap(apierror.ClientAbort, "client closed request", err)
		}
		r.d.Metrics.GenerationFinished(r.d.Config.Model, metrics.OutcomeError, r.d.Clock().Sub(start), 0)
		var se *upstream.StatusError
		if errors.As(err, &se) {
			r.d.Metrics.RecordUpstreamError(se.Status)
			log.Error().Int("status", se.Status).Str("body", se.Body).Msg("upstream rejected request")
			return nil, apierror.Wrap(apierror.UpstreamTransport, se.Error(), err)
		}
		r.d.Metrics.RecordUpstreamError(0)
		log.Error().Err(err).Msg("upstream request failed")
		return nil, apierror.Wrap(apierror.UpstreamTransport, err.Error(), err)
	}
	log.Info().Int("prompt_runes", utf8.RuneCountInString(prompt)).Msg("generation started")
	return &Generation{
		ID:     id,
		r:      r,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		body:   body,
		start:  start,
	}, nil
}

func withTimeout(ctx context.Context, outer context.CancelFunc, d time.Duration) (context.Context, context.CancelFunc) {
	ctx, inner := context.WithTimeout(ctx, d)
	return ctx, func() {
		inner()
		outer()
	}
}

// Emit delivers one event to the client. A non-nil error aborts the
// generation; it usually means the client is gone.
type Emit func(event.Event) error

// Generation is one open upstream stream.
type Generation struct {
	ID string

	r      *Relay
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	body   io.ReadCloser
	start  time.Time
	closed bool
}

// Summary describes how a generation ended.
type Summary struct {
	Outcome   string
	Events    int
	CodeBytes int
	Terminal  event.Stage
}

// Run relays events to emit until exactly one terminal event has been
// delivered, the client aborts, or emit fails. Failures after the stream has
// started are reported in-band as an error event. When the upstream closes
// without a terminal event, a Done is emitted if any code was relayed and an
// error event otherwise. The returned error is non-nil only when the client
// could not be reached.
func (g *Generation) Run(emit Emit) (Summary, error) {
	d := g.r.d
	var sum Summary
	sawCode := false
	stream := reframe.NewStream(g.body, reframe.Options{
		MaxLineBytes: d.Config.MaxLineBytes,
		Now:          d.Clock,
		OnSkip: func(payload []byte, err error) {
			d.Metrics.RecordMalformedLine()
			g.log.Warn().Err(err).Int("bytes", len(payload)).Msg("skipping malformed upstream line")
		},
	})

	send := func(ev event.Event) error {
		if err := emit(ev); err != nil {
			return err
		}
		sum.Events++
		if ev.Stage == event.StageCode {
			sawCode = true
			sum.CodeBytes += len(ev.Content)
		}
		if ev.Terminal() {
			sum.Terminal = ev.Stage
		}
		return nil
	}

	finish := func(outcome string) {
		sum.Outcome = outcome
		d.Metrics.GenerationFinished(d.Config.Model, outcome, d.Clock().Sub(g.start), sum.CodeBytes)
		lev := g.log.Info()
		if outcome == metrics.OutcomeCancelled {
			lev = g.log.Debug()
		}
		lev.Str("outcome", outcome).Int("events", sum.Events).Int("code_bytes", sum.CodeBytes).
			Dur("duration", d.Clock().Sub(g.start)).Msg("generation finished")
	}

	fail := func(msg string) (Summary, error) {
		if err := send(event.Failure(msg)); err != nil {
			finish(metrics.OutcomeCancelled)
			return sum, err
		}
		finish(metrics.OutcomeError)
		return sum, nil
	}

	for {
		ev, err := stream.Next()
		if err != nil {
			if errors.Is(g.ctx.Err(), context.Canceled) {
				finish(metrics.OutcomeCancelled)
				return sum, g.ctx.Err()
			}
			if err != io.EOF && errors.Is(g.ctx.Err(), context.DeadlineExceeded) {
				err = io.EOF
			}
			switch {
			case err == io.EOF:
				if sawCode {
					g.log.Debug().Msg("upstream closed without stop; completing")
					if err := send(event.Done(d.Clock())); err != nil {
						finish(metrics.OutcomeCancelled)
						return sum, err
					}
					finish(metrics.OutcomeSuccess)
					return sum, nil
				}
				g.log.Warn().Msg("upstream closed before producing code")
				return fail(MsgNoCode)
			case errors.Is(err, reframe.ErrLineTooLong):
				g.log.Error().Err(err).Msg("upstream line over limit")
				return fail(MsgLineTooLong)
			default:
				d.Metrics.RecordUpstreamError(0)
				g.log.Error().Err(err).Msg("upstream stream failed")
				return fail(MsgInterrupted + ": " + err.Error())
			}
		}
		if err := send(ev); err != nil {
			finish(metrics.OutcomeCancelled)
			return sum, err
		}
		if ev.Terminal() {
			if ev.Stage == event.StageError {
				g.log.Error().Str("error", ev.Error).Msg("upstream reported error")
				finish(metrics.OutcomeError)
			} else {
				finish(metrics.OutcomeSuccess)
			}
			return sum, nil
		}
	}
}

// Close cancels the upstream request and releases the generation. It is
// safe to call more than once.
func (g *Generation) Close() error {
	if g.closed {
		return nil
	}
	g.closed = true
	g.cancel()
	err := g.body.Close()
	g.r.d.Inflight.Dec()
	return err
}

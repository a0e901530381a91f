package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gaspardpetit/uigen/internal/apierror"
	"github.com/gaspardpetit/uigen/internal/event"
	"github.com/gaspardpetit/uigen/internal/relay"
)

const maxRequestBody = 64 << 10

// Transport labels for relay event metrics.
const (
	TransportSSE = "sse"
	TransportWS  = "ws"
)

func decodeGenerateRequest(r io.Reader) (relay.GenerateRequest, error) {
	var req relay.GenerateRequest
	err := json.NewDecoder(io.LimitReader(r, maxRequestBody)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		return req, apierror.Wrap(apierror.InvalidRequest, "Invalid request body", err)
	}
	return req, nil
}

// GenerateHandler handles POST /api/generate. Validation and upstream
// failures before the first byte are answered with a JSON error; once the
// event stream has started every failure is reported in-band.
func GenerateHandler(rl *relay.Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d := rl.Deps()
		req, err := decodeGenerateRequest(r.Body)
		if err == nil {
			req.Prompt, err = rl.Check(req)
		}
		if err != nil {
			rl.Reject(err)
			apierror.WriteJSON(w, err)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			apierror.WriteJSON(w, apierror.New(apierror.Internal, "streaming unsupported"))
			return
		}

		gen, err := rl.Open(r.Context(), req.Prompt)
		if err != nil {
			if apierror.KindOf(err) != apierror.ClientAbort {
				apierror.WriteJSON(w, err)
			}
			return
		}
		defer func() { _ = gen.Close() }()

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache, no-transform")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		h.Set("X-Generation-Id", gen.ID)
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		_, err = gen.Run(func(ev event.Event) error {
			if err := event.Encode(w, ev); err != nil {
				return err
			}
			flusher.Flush()
			d.Metrics.RecordEvent(string(ev.Stage), TransportSSE)
			return nil
		})
		if err != nil {
			d.Logger.Debug().Err(err).Str("generation_id", gen.ID).Msg("client stopped reading")
		}
	}
}

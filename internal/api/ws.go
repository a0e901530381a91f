package api

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"

	"github.com/gaspardpetit/uigen/internal/apierror"
	"github.com/gaspardpetit/uigen/internal/event"
	"github.com/gaspardpetit/uigen/internal/relay"
)

// originPatterns converts allowed origins such as "https://app.example.com"
// into the host patterns the websocket library matches against.
func originPatterns(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, strings.TrimSuffix(o, "/"))
	}
	return out
}

// GenerateWSHandler serves GET /api/generate/ws. The client sends one
// {"prompt": ...} text message; every relay event comes back as one JSON
// text message and the server closes normally after the terminal event.
func GenerateWSHandler(rl *relay.Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d := rl.Deps()
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originPatterns(d.Config.AllowedOrigins),
		})
		if err != nil {
			d.Logger.Debug().Err(err).Msg("websocket accept")
			return
		}
		defer func() { _ = c.CloseNow() }()
		c.SetReadLimit(maxRequestBody)

		ctx := r.Context()
		_, msg, err := c.Read(ctx)
		if err != nil {
			d.Logger.Debug().Err(err).Msg("websocket read prompt")
			return
		}
		// Any further client frame or a dropped connection cancels ctx.
		ctx = c.CloseRead(ctx)

		send := func(ev event.Event) error {
			b, err := event.JSON(ev)
			if err != nil {
				return err
			}
			if err := c.Write(ctx, websocket.MessageText, b); err != nil {
				return err
			}
			d.Metrics.RecordEvent(string(ev.Stage), TransportWS)
			return nil
		}

		gen, err := open(ctx, rl, msg)
		if err != nil {
			if apierror.KindOf(err) == apierror.ClientAbort {
				return
			}
			if send(event.Failure(err.Error())) == nil {
				_ = c.Close(websocket.StatusNormalClosure, "")
			}
			return
		}
		defer func() { _ = gen.Close() }()

		if _, err := gen.Run(send); err != nil {
			d.Logger.Debug().Err(err).Str("generation_id", gen.ID).Msg("websocket client gone")
			return
		}
		_ = c.Close(websocket.StatusNormalClosure, "")
	}
}

func open(ctx context.Context, rl *relay.Relay, msg []byte) (*relay.Generation, error) {
	req, err := decodeGenerateRequest(bytes.NewReader(msg))
	if err == nil {
		req.Prompt, err = rl.Check(req)
	}
	if err != nil {
		rl.Reject(err)
		return nil, err
	}
	return rl.Open(ctx, req.Prompt)
}

package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gaspardpetit/uigen/internal/apierror"
	"github.com/gaspardpetit/uigen/internal/event"
)

func frame(ev event.Event) string {
	b, err := event.Marshal(ev)
	Expect(err).NotTo(HaveOccurred())
	return string(b)
}

var _ = Describe("Client", func() {
	var (
		srv     *httptest.Server
		handler http.HandlerFunc
		c       *Client
	)

	BeforeEach(func() {
		srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler(w, r)
		}))
		c = New(srv.URL)
	})

	AfterEach(func() {
		srv.Close()
	})

	stream := func(parts ...string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("X-Generation-Id", "gen-1")
			for _, p := range parts {
				_, _ = io.WriteString(w, p)
				w.(http.Flusher).Flush()
			}
		}
	}

	It("accumulates code until done", func() {
		handler = stream(frame(event.Code("function")), frame(event.Code(" App")), frame(event.Done(time.Now())))
		var updates []string
		res, err := c.Generate(context.Background(), "app", nil, func(s string) { updates = append(updates, s) })
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(Equal(Result{Code: "function App", Done: true, GenerationID: "gen-1"}))
		Expect(updates).To(Equal([]string{"function", "function App"}))
	})

	It("skips malformed lines and keeps going", func() {
		handler = stream("data: {oops\n\n", ": comment\n\n", frame(event.Code("ok")), frame(event.Done(time.Now())))
		res, err := c.Generate(context.Background(), "x", nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Code).To(Equal("ok"))
	})

	It("reassembles events split across writes", func() {
		f := frame(event.Code("split"))
		handler = stream(f[:7], f[7:], frame(event.Done(time.Now())))
		res, err := c.Generate(context.Background(), "x", nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Code).To(Equal("split"))
	})

	It("returns error events as GenerationError", func() {
		handler = stream(frame(event.Code("par")), frame(event.Failure("Upstream stream interrupted")))
		res, err := c.Generate(context.Background(), "x", nil, nil)
		var ge *GenerationError
		Expect(errors.As(err, &ge)).To(BeTrue())
		Expect(ge.Message).To(Equal("Upstream stream interrupted"))
		Expect(res.Code).To(Equal("par"))
	})

	It("keeps partial code when the stream ends silently", func() {
		handler = stream(frame(event.Code("<div/>")))
		res, err := c.Generate(context.Background(), "x", nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Done).To(BeFalse())
		Expect(res.Code).To(Equal("<div/>"))
	})

	It("reports an empty silent stream as no code", func() {
		handler = stream()
		_, err := c.Generate(context.Background(), "x", nil, nil)
		Expect(err).To(MatchError(NoCodeMessage))
	})

	It("surfaces the relay's JSON error for non-200 responses", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"Prompt is required"}`)
		}
		_, err := c.Generate(context.Background(), "", nil, nil)
		Expect(err).To(MatchError("Prompt is required"))
		Expect(apierror.KindOf(err)).To(Equal(apierror.InvalidRequest))
	})

	It("returns ErrCanceled when the caller stops", func() {
		release := make(chan struct{})
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = io.WriteString(w, frame(event.Code("first")))
			w.(http.Flusher).Flush()
			select {
			case <-r.Context().Done():
			case <-release:
			}
		}
		defer close(release)
		ctx, cancel := context.WithCancel(context.Background())
		res, err := c.Generate(ctx, "x", nil, func(string) { cancel() })
		Expect(errors.Is(err, ErrCanceled)).To(BeTrue())
		Expect(res.Code).To(Equal("first"))
	})

	It("reports an expired deadline as a timeout, not a cancellation", func() {
		release := make(chan struct{})
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = io.WriteString(w, frame(event.Code("partial")))
			w.(http.Flusher).Flush()
			select {
			case <-r.Context().Done():
			case <-release:
			}
		}
		defer close(release)
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		res, err := c.Generate(ctx, "x", nil, nil)
		Expect(errors.Is(err, ErrCanceled)).To(BeFalse())
		Expect(errors.Is(err, ErrTimeout)).To(BeTrue())
		Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
		Expect(apierror.Classify(err)).To(Equal(apierror.CodeTimeout))
		Expect(res.Code).To(Equal("partial"))
	})
})

package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/a-h/chatrelay/models"
	"github.com/a-h/chatrelay/sse"
	"github.com/a-h/chatrelay/upstream"
	"github.com/google/go-cmp/cmp"
)

var log = slog.New(slog.NewTextHandler(io.Discard, nil))

func frame(content string) string {
	return fmt.Sprintf("data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", content)
}

func newUpstream(t *testing.T, h http.HandlerFunc) *upstream.Client {
	t.Helper()
	s := httptest.NewServer(h)
	t.Cleanup(s.Close)
	config := upstream.DefaultConfig()
	config.URL = s.URL
	config.APIKey = "test-key"
	return upstream.New(config, s.Client())
}

func staticUpstream(t *testing.T, status int, body string) *upstream.Client {
	return newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(status)
		io.WriteString(w, body)
	})
}

type eventRecorder struct {
	events []models.Event
	// write is called before an event is recorded, if it returns an error the
	// event is not recorded.
	write func(e models.Event) error
}

func (er *eventRecorder) WriteData(v any) error {
	e, ok := v.(models.Event)
	if !ok {
		return fmt.Errorf("unexpected type %T", v)
	}
	if er.write != nil {
		if err := er.write(e); err != nil {
			return err
		}
	}
	er.events = append(er.events, e)
	return nil
}

func TestRunWritesExactStream(t *testing.T) {
	u := staticUpstream(t, http.StatusOK, frame("Hi")+frame(" there")+"data: [DONE]\n\n")
	w := httptest.NewRecorder()

	result := New(log, u, time.Second, time.Second).Run(context.Background(), sse.NewWriter(w), "hello")

	if result.Outcome != OutcomeCompleted {
		t.Errorf("expected completed, got %v: %v", result.Outcome, result.Err)
	}
	if result.Deltas != 2 {
		t.Errorf("expected 2 deltas, got %d", result.Deltas)
	}
	expected := "data: {\"content\":\"Hi\"}\n\ndata: {\"content\":\" there\"}\n\n"
	if actual := w.Body.String(); actual != expected {
		t.Errorf("expected %q, got %q", expected, actual)
	}
}

func TestRun(t *testing.T) {
	tests := []struct {
		name            string
		status          int
		body            string
		expectedEvents  []models.Event
		expectedOutcome Outcome
	}{
		{
			name:            "the done token closes the stream without content",
			status:          http.StatusOK,
			body:            "data: [DONE]\n\n",
			expectedEvents:  nil,
			expectedOutcome: OutcomeCompleted,
		},
		{
			name:            "the end of the body closes the stream",
			status:          http.StatusOK,
			body:            frame("a") + frame("b"),
			expectedEvents:  []models.Event{{Content: "a"}, {Content: "b"}},
			expectedOutcome: OutcomeCompleted,
		},
		{
			name:            "nothing after the done token is relayed",
			status:          http.StatusOK,
			body:            frame("a") + "data: [DONE]\n\n" + frame("b"),
			expectedEvents:  []models.Event{{Content: "a"}},
			expectedOutcome: OutcomeCompleted,
		},
		{
			name:            "malformed JSON is skipped",
			status:          http.StatusOK,
			body:            frame("a") + "data: {\"choices\":[{\"delta\":\n\n" + frame("b") + "data: [DONE]\n\n",
			expectedEvents:  []models.Event{{Content: "a"}, {Content: "b"}},
			expectedOutcome: OutcomeCompleted,
		},
		{
			name:            "oversized frames are skipped",
			status:          http.StatusOK,
			body:            frame("a") + "data: " + strings.Repeat("x", 2*sse.MaxLineSize) + "\n\n" + frame("after") + "data: [DONE]\n\n",
			expectedEvents:  []models.Event{{Content: "a"}, {Content: "after"}},
			expectedOutcome: OutcomeCompleted,
		},
		{
			name:            "comments and other fields are skipped",
			status:          http.StatusOK,
			body:            ": OPENROUTER PROCESSING\n\nevent: ping\n" + frame("a") + "data: [DONE]\n\n",
			expectedEvents:  []models.Event{{Content: "a"}},
			expectedOutcome: OutcomeCompleted,
		},
		{
			name:   "frames without content are skipped",
			status: http.StatusOK,
			body: "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\"\"}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":null}}]}\n\n" +
				"data: {\"choices\":[]}\n\n" +
				"data: {\"usage\":{\"total_tokens\":10}}\n\n" +
				frame("a") +
				"data: [DONE]\n\n",
			expectedEvents:  []models.Event{{Content: "a"}},
			expectedOutcome: OutcomeCompleted,
		},
		{
			name:            "only the first choice is relayed",
			status:          http.StatusOK,
			body:            "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}},{\"delta\":{\"content\":\"b\"}}]}\n\ndata: [DONE]\n\n",
			expectedEvents:  []models.Event{{Content: "a"}},
			expectedOutcome: OutcomeCompleted,
		},
		{
			name:            "deltas are relayed in order without merging",
			status:          http.StatusOK,
			body:            frame("1") + frame("2") + frame("3") + frame("\n") + frame("4") + "data: [DONE]\n\n",
			expectedEvents:  []models.Event{{Content: "1"}, {Content: "2"}, {Content: "3"}, {Content: "\n"}, {Content: "4"}},
			expectedOutcome: OutcomeCompleted,
		},
		{
			name:            "unsuccessful status codes are a single error event",
			status:          http.StatusUnauthorized,
			body:            "unauthorized",
			expectedEvents:  []models.Event{{Error: "API Error: 401 - unauthorized"}},
			expectedOutcome: OutcomeStatusError,
		},
		{
			name:            "no content is relayed from an unsuccessful response",
			status:          http.StatusInternalServerError,
			body:            frame("a"),
			expectedEvents:  []models.Event{{Error: "API Error: 500 - " + frame("a")}},
			expectedOutcome: OutcomeStatusError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := staticUpstream(t, tt.status, tt.body)
			w := &eventRecorder{}

			result := New(log, u, time.Second, time.Second).Run(context.Background(), w, "hello")

			if result.Outcome != tt.expectedOutcome {
				t.Errorf("expected outcome %v, got %v: %v", tt.expectedOutcome, result.Outcome, result.Err)
			}
			if diff := cmp.Diff(tt.expectedEvents, w.events); diff != "" {
				t.Error(diff)
			}
		})
	}
}

func TestRunLimitsErrorBodies(t *testing.T) {
	u := staticUpstream(t, http.StatusBadGateway, strings.Repeat("x", maxErrorBodySize*2))
	w := &eventRecorder{}

	New(log, u, time.Second, time.Second).Run(context.Background(), w, "hello")

	if len(w.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(w.events))
	}
	expected := "API Error: 502 - " + strings.Repeat("x", maxErrorBodySize)
	if w.events[0].Error != expected {
		t.Errorf("expected the body to be truncated to %d bytes", maxErrorBodySize)
	}
}

func TestRunReadTimeout(t *testing.T) {
	stopped := make(chan struct{})
	u := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		io.WriteString(w, frame("a"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(stopped)
	})
	w := &eventRecorder{}

	result := New(log, u, 10*time.Second, 50*time.Millisecond).Run(context.Background(), w, "hello")

	if result.Outcome != OutcomeTimeout {
		t.Errorf("expected timeout, got %v: %v", result.Outcome, result.Err)
	}
	expected := []models.Event{{Content: "a"}, {Error: "Request timeout. Please try again."}}
	if diff := cmp.Diff(expected, w.events); diff != "" {
		t.Error(diff)
	}
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Error("expected the upstream request to be cancelled")
	}
}

func TestRunReadTimeoutIgnoresSlowClients(t *testing.T) {
	u := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		for _, content := range []string{"a", "b", "c", "d"} {
			io.WriteString(w, frame(content))
			w.(http.Flusher).Flush()
			time.Sleep(20 * time.Millisecond)
		}
		io.WriteString(w, "data: [DONE]\n\n")
	})
	w := &eventRecorder{
		write: func(e models.Event) error {
			time.Sleep(150 * time.Millisecond)
			return nil
		},
	}

	result := New(log, u, 10*time.Second, 100*time.Millisecond).Run(context.Background(), w, "hello")

	if result.Outcome != OutcomeCompleted {
		t.Errorf("expected completed, got %v: %v", result.Outcome, result.Err)
	}
	expected := []models.Event{{Content: "a"}, {Content: "b"}, {Content: "c"}, {Content: "d"}}
	if diff := cmp.Diff(expected, w.events); diff != "" {
		t.Error(diff)
	}
}

func TestRunOverallTimeout(t *testing.T) {
	u := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		for {
			io.WriteString(w, frame("a"))
			w.(http.Flusher).Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	})
	w := &eventRecorder{}

	result := New(log, u, 100*time.Millisecond, time.Second).Run(context.Background(), w, "hello")

	if result.Outcome != OutcomeTimeout {
		t.Errorf("expected timeout, got %v: %v", result.Outcome, result.Err)
	}
	if len(w.events) == 0 {
		t.Fatal("expected events")
	}
	last := w.events[len(w.events)-1]
	if last.Error != "Request timeout. Please try again." {
		t.Errorf("expected the last event to be a timeout, got %#v", last)
	}
	for _, e := range w.events[:len(w.events)-1] {
		if e.Content != "a" {
			t.Errorf("expected only content before the error, got %#v", e)
		}
	}
	if result.Deltas != len(w.events)-1 {
		t.Errorf("expected %d deltas, got %d", len(w.events)-1, result.Deltas)
	}
}

func TestRunConnectionRefused(t *testing.T) {
	s := httptest.NewServer(http.NotFoundHandler())
	config := upstream.DefaultConfig()
	config.URL = s.URL
	config.APIKey = "test-key"
	s.Close()
	w := &eventRecorder{}

	result := New(log, upstream.New(config, nil), time.Second, time.Second).Run(context.Background(), w, "hello")

	if result.Outcome != OutcomeConnectionError {
		t.Errorf("expected connection error, got %v: %v", result.Outcome, result.Err)
	}
	if len(w.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(w.events))
	}
	if !strings.HasPrefix(w.events[0].Error, "Connection error: ") {
		t.Errorf("unexpected error event %q", w.events[0].Error)
	}
}

func TestRunConnectionDroppedMidStream(t *testing.T) {
	u := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		conn, buf, err := w.(http.Hijacker).Hijack()
		if err != nil {
			t.Errorf("failed to hijack: %v", err)
			return
		}
		defer conn.Close()
		chunk := frame("a")
		fmt.Fprintf(buf, "HTTP/1.1 200 OK\r\nContent-Type: text/event-stream\r\nTransfer-Encoding: chunked\r\n\r\n")
		fmt.Fprintf(buf, "%x\r\n%s\r\n", len(chunk), chunk)
		buf.Flush()
	})
	w := &eventRecorder{}

	result := New(log, u, time.Second, time.Second).Run(context.Background(), w, "hello")

	if result.Outcome != OutcomeConnectionError {
		t.Errorf("expected connection error, got %v: %v", result.Outcome, result.Err)
	}
	if len(w.events) != 2 {
		t.Fatalf("expected 2 events, got %#v", w.events)
	}
	if w.events[0].Content != "a" {
		t.Errorf("expected content to be relayed before the failure, got %#v", w.events[0])
	}
	if !strings.HasPrefix(w.events[1].Error, "Connection error: ") {
		t.Errorf("unexpected error event %q", w.events[1].Error)
	}
}

type openerFunc func(ctx context.Context, message string) (*http.Response, error)

func (f openerFunc) Open(ctx context.Context, message string) (*http.Response, error) {
	return f(ctx, message)
}

type failingBody struct {
	data string
	err  error
}

func (fb *failingBody) Read(p []byte) (n int, err error) {
	if fb.data == "" {
		return 0, fb.err
	}
	n = copy(p, fb.data)
	fb.data = fb.data[n:]
	return n, nil
}

func (fb *failingBody) Close() error { return nil }

func TestRunUnexpectedError(t *testing.T) {
	u := openerFunc(func(ctx context.Context, message string) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       &failingBody{data: frame("a"), err: errors.New("boom")},
		}, nil
	})
	w := &eventRecorder{}

	result := New(log, u, time.Second, time.Second).Run(context.Background(), w, "hello")

	if result.Outcome != OutcomeUnexpectedError {
		t.Errorf("expected unexpected error, got %v: %v", result.Outcome, result.Err)
	}
	expected := []models.Event{{Content: "a"}, {Error: "Unexpected error: boom"}}
	if diff := cmp.Diff(expected, w.events); diff != "" {
		t.Error(diff)
	}
}

func TestRunTearsDownUpstreamWhenWritesFail(t *testing.T) {
	stopped := make(chan struct{})
	u := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		io.WriteString(w, frame("a"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(stopped)
	})
	var attempts int
	w := &eventRecorder{
		write: func(e models.Event) error {
			attempts++
			return errors.New("broken pipe")
		},
	}

	result := New(log, u, 0, 0).Run(context.Background(), w, "hello")

	if result.Outcome != OutcomeClientGone {
		t.Errorf("expected client gone, got %v: %v", result.Outcome, result.Err)
	}
	if attempts != 1 {
		t.Errorf("expected a single write attempt, got %d", attempts)
	}
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Error("expected the upstream request to be cancelled")
	}
}

func TestRunTearsDownUpstreamWhenClientDisconnects(t *testing.T) {
	stopped := make(chan struct{})
	u := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		io.WriteString(w, frame("a"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(stopped)
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &eventRecorder{
		write: func(e models.Event) error {
			cancel()
			return nil
		},
	}

	result := New(log, u, 0, 0).Run(ctx, w, "hello")

	if result.Outcome != OutcomeClientGone {
		t.Errorf("expected client gone, got %v: %v", result.Outcome, result.Err)
	}
	if diff := cmp.Diff([]models.Event{{Content: "a"}}, w.events); diff != "" {
		t.Error(diff)
	}
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Error("expected the upstream request to be cancelled")
	}
}

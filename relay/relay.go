package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/a-h/chatrelay/models"
	"github.com/a-h/chatrelay/sse"
	"github.com/tidwall/gjson"
)

const (
	doneToken = "[DONE]"
	// maxErrorBodySize limits how much of a failed upstream response is read.
	maxErrorBodySize = 64 * 1024
)

// Opener starts an upstream completion for a message.
type Opener interface {
	Open(ctx context.Context, message string) (*http.Response, error)
}

// EventWriter writes a single outbound event to the client.
type EventWriter interface {
	WriteData(v any) error
}

func New(log *slog.Logger, upstream Opener, timeout, readTimeout time.Duration) *Relay {
	return &Relay{
		log:         log,
		upstream:    upstream,
		timeout:     timeout,
		readTimeout: readTimeout,
	}
}

// Relay streams completions from the upstream to a client as content events.
type Relay struct {
	log         *slog.Logger
	upstream    Opener
	timeout     time.Duration
	readTimeout time.Duration
}

type Result struct {
	Outcome Outcome
	// Deltas is the number of content events written.
	Deltas int
	// Err is the failure that ended the relay, if any.
	Err error
}

// Run relays the completion of message to w. Failures are written to w as a
// single error event, after which nothing else is written. If the client
// goes away, either because ctx is cancelled or a write fails, the upstream
// request is cancelled and Run returns without writing anything else.
func (rl *Relay) Run(ctx context.Context, w EventWriter, message string) (result Result) {
	upstreamCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if rl.timeout > 0 {
		var cancelTimeout context.CancelFunc
		upstreamCtx, cancelTimeout = context.WithTimeoutCause(upstreamCtx, rl.timeout, ErrTimeout)
		defer cancelTimeout()
	}
	idle := newWatchdog(rl.readTimeout, func() { cancel(ErrIdleTimeout) })
	defer idle.Stop()

	result.Deltas, result.Err = rl.pump(upstreamCtx, w, message, idle)
	if result.Err == nil {
		result.Outcome = OutcomeCompleted
		return result
	}

	var msg string
	result.Outcome, msg = classify(ctx, upstreamCtx, result.Err)
	if result.Outcome == OutcomeClientGone {
		return result
	}
	if err := w.WriteData(models.Event{Error: msg}); err != nil {
		rl.log.Debug("failed to write error event", slog.Any("error", err))
	}
	return result
}

func (rl *Relay) pump(ctx context.Context, w EventWriter, message string, idle *watchdog) (deltas int, err error) {
	resp, err := rl.upstream.Open(ctx, message)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		if err != nil {
			return 0, err
		}
		return 0, StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	r := sse.NewReader(activityReader{r: resp.Body, onRead: idle.Reset})
	for {
		data, err := r.Next()
		if err == io.EOF {
			return deltas, nil
		}
		if err != nil {
			return deltas, err
		}
		if data == doneToken {
			return deltas, nil
		}
		// Partial or corrupt frames are expected at line boundaries.
		if !gjson.Valid(data) {
			rl.log.Debug("skipping malformed frame", slog.String("data", data))
			continue
		}
		delta := gjson.Get(data, "choices.0.delta.content")
		if delta.Type != gjson.String || delta.Str == "" {
			continue
		}
		// The read timeout only covers waiting on the upstream, not a slow client.
		idle.Stop()
		if err = w.WriteData(models.Event{Content: delta.Str}); err != nil {
			return deltas, fmt.Errorf("%w: %w", ErrClientGone, err)
		}
		idle.Reset()
		deltas++
	}
}

// activityReader calls onRead each time bytes arrive.
type activityReader struct {
	r      io.Reader
	onRead func()
}

func (ar activityReader) Read(p []byte) (n int, err error) {
	n, err = ar.r.Read(p)
	if n > 0 {
		ar.onRead()
	}
	return n, err
}

// watchdog calls expire if it isn't reset within d. A zero d disables it.
type watchdog struct {
	d     time.Duration
	timer *time.Timer
}

func newWatchdog(d time.Duration, expire func()) *watchdog {
	if d <= 0 {
		return &watchdog{}
	}
	return &watchdog{
		d:     d,
		timer: time.AfterFunc(d, expire),
	}
}

func (wd *watchdog) Reset() {
	if wd.timer != nil {
		wd.timer.Reset(wd.d)
	}
}

func (wd *watchdog) Stop() {
	if wd.timer != nil {
		wd.timer.Stop()
	}
}

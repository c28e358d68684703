package post

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/a-h/chatrelay/metrics"
	"github.com/a-h/chatrelay/models"
	"github.com/a-h/chatrelay/relay"
	"github.com/a-h/chatrelay/requestid"
	"github.com/a-h/chatrelay/sse"
	"github.com/a-h/respond"
)

const maxRequestBodySize = 64 * 1024

type Relayer interface {
	Run(ctx context.Context, w relay.EventWriter, message string) relay.Result
}

func New(log *slog.Logger, relayer Relayer, m *metrics.Metrics) Handler {
	return Handler{
		log:     log,
		relayer: relayer,
		metrics: m,
	}
}

type Handler struct {
	log     *slog.Logger
	relayer Relayer
	metrics *metrics.Metrics
}

// ValidationError is returned for requests that are rejected before the
// upstream is contacted.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

func validate(req models.ChatPostRequest) error {
	if strings.TrimSpace(req.Message) == "" {
		return ValidationError{Field: "message", Message: "Message cannot be empty"}
	}
	return nil
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.log
	if id, ok := requestid.Get(r); ok {
		log = log.With(slog.String("request_id", id))
	}

	var req models.ChatPostRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err == nil {
		err = json.Unmarshal(body, &req)
	}
	if err != nil {
		log.Error("failed to decode body", slog.Any("error", err))
		h.metrics.Rejected()
		respond.WithError(w, "failed to decode body", http.StatusBadRequest)
		return
	}
	if err = validate(req); err != nil {
		log.Info("invalid request", slog.Any("error", err))
		h.metrics.Rejected()
		respond.WithError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Commit the response before the upstream is contacted, so that the client
	// can start reading straight away. From here on, failures are reported as
	// events.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusOK)
	if flusher, canFlush := w.(http.Flusher); canFlush {
		flusher.Flush()
	}

	log.Info("relaying message", slog.Int("length", len(req.Message)))
	start := time.Now()
	result := h.relayer.Run(r.Context(), sse.NewWriter(w), req.Message)
	duration := time.Since(start)
	h.metrics.Relayed(string(result.Outcome), result.Deltas, duration)

	attrs := []any{
		slog.String("outcome", string(result.Outcome)),
		slog.Int("deltas", result.Deltas),
		slog.Duration("duration", duration),
	}
	if result.Err != nil {
		log.Warn("relay ended with error", append(attrs, slog.Any("error", result.Err))...)
		return
	}
	log.Info("relay complete", attrs...)
}

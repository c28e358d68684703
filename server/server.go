package server

import (
	"log/slog"
	"net/http"

	chatpost "github.com/a-h/chatrelay/handlers/chat/post"
	healthget "github.com/a-h/chatrelay/handlers/health/get"
	"github.com/a-h/chatrelay/metrics"
	"github.com/a-h/chatrelay/relay"
	"github.com/a-h/chatrelay/requestid"
	"github.com/a-h/chatrelay/upstream"
	"github.com/a-h/chatrelay/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"
)

const ServiceName = "AI Chatbot"

// New creates the HTTP handler for the chat relay. Metrics are registered
// with reg and served from it.
func New(log *slog.Logger, u *upstream.Client, reg *prometheus.Registry) http.Handler {
	config := u.Config()
	r := relay.New(log, u, config.Timeout, config.ReadTimeout)

	mux := http.NewServeMux()

	cph := chatpost.New(log, r, metrics.New(reg))
	mux.Handle("POST /chat", cph)
	mux.Handle("POST /api/chat", cph)

	mux.Handle("GET /health", healthget.New(ServiceName))
	mux.Handle("GET /metrics", metrics.Handler(reg))
	mux.Handle("GET /{$}", web.Index())

	return cors.AllowAll().Handler(requestid.New(mux))
}

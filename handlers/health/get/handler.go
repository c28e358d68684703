package get

import (
	"net/http"

	"github.com/a-h/chatrelay/models"
	"github.com/a-h/respond"
)

func New(service string) Handler {
	return Handler{
		service: service,
	}
}

type Handler struct {
	service string
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	respond.WithJSON(w, models.HealthResponse{
		Status:  "healthy",
		Service: h.service,
	}, http.StatusOK)
}

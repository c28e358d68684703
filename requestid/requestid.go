package requestid

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const Header = "X-Request-ID"

func New(next http.Handler) *RequestID {
	return &RequestID{
		Next: next,
	}
}

// RequestID assigns an ID to each request, reusing the caller's X-Request-ID
// if one is provided.
type RequestID struct {
	Next http.Handler
}

type requestIDContextKey int

const requestIDKey requestIDContextKey = 0

func Get(r *http.Request) (id string, ok bool) {
	id, ok = r.Context().Value(requestIDKey).(string)
	return
}

func (m *RequestID) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(Header)
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set(Header, id)
	r = r.WithContext(context.WithValue(r.Context(), requestIDKey, id))
	m.Next.ServeHTTP(w, r)
}

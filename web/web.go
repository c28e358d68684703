package web

import (
	_ "embed"
	"net/http"
)

//go:embed index.html
var index []byte

// Index serves the chat page.
func Index() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(index)
	})
}

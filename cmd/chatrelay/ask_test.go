package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/a-h/chatrelay/client"
)

func TestAsk(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "data: {\"content\":\"Hi\"}\n\ndata: {\"content\":\" there\"}\n\n")
	}))
	defer s.Close()

	buf := new(bytes.Buffer)
	if err := ask(context.Background(), client.New(s.URL), "hello", buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expected := "Hi there\n"; buf.String() != expected {
		t.Errorf("expected %q, got %q", expected, buf.String())
	}
}

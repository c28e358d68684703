package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/a-h/chatrelay/models"
	"github.com/a-h/chatrelay/sse"
	"github.com/a-h/jsonapi"
)

func New(baseURL string) Client {
	return Client{
		baseURL: baseURL,
	}
}

type Client struct {
	baseURL string
}

// EventError is an error event received from the server.
type EventError struct {
	Message string
}

func (e EventError) Error() string {
	return e.Message
}

// ChatPost sends a message and calls f with each content fragment as it
// arrives. If the server reports an error in the stream, it is returned as an
// EventError.
func (c Client) ChatPost(ctx context.Context, req models.ChatPostRequest, f func(ctx context.Context, content string) error) (err error) {
	url, err := jsonapi.URL(c.baseURL).Path("chat").String()
	if err != nil {
		return err
	}
	buf, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	res, err := jsonapi.Raw(httpReq, jsonapi.WithRequestHeader("Content-Type", "application/json"))
	if err != nil {
		return fmt.Errorf("failed to perform HTTP request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(res.Body)
		return jsonapi.InvalidStatusError{
			Status: res.StatusCode,
			Body:   string(body),
		}
	}
	r := sse.NewReader(res.Body)
	for {
		data, err := r.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("failed to read response body: %w", err)
		}
		var event models.Event
		if err = json.Unmarshal([]byte(data), &event); err != nil {
			return fmt.Errorf("failed to decode event: %w", err)
		}
		if event.Error != "" {
			return EventError{Message: event.Error}
		}
		if err = f(ctx, event.Content); err != nil {
			return fmt.Errorf("failed to process content: %w", err)
		}
	}
}

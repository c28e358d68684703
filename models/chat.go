package models

type ChatPostRequest struct {
	// Message is the user's turn. Each request is stand-alone, there is no
	// conversation history.
	Message string `json:"message"`
}

// Event is a single frame of the outbound stream. Exactly one of Content or
// Error is set.
type Event struct {
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

package domain

import "time"

// Persona is a read-only expert profile a user can chat with.
type Persona struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Style       string `json:"style"`

	// Backend selects the generation integration ("local", "gemini").
	// Empty means the persona has no backend yet.
	Backend string `json:"backend,omitempty"`
	// Model is the model name for backends that need one.
	Model string `json:"model,omitempty"`
	// Instructions is the persona's system prompt, for backends that accept one.
	Instructions string `json:"-"`
}

// Message is one entry of a conversation. Content is append-only while the
// reply streams and frozen once the turn settles.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Error marks a failure notice shown to the user. Notices are never
	// forwarded to the backend.
	Error     bool      `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// HistoryTurn is the backend's view of one message.
type HistoryTurn struct {
	Role  HistoryRole `json:"role"`
	Parts string      `json:"parts"`
}

// ChatMessage is the relay's request representation of one message.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body POSTed to the relay.
type ChatRequest struct {
	History []ChatMessage `json:"history"`
}

// UpstreamRequest is the body POSTed to the generation backend.
type UpstreamRequest struct {
	History []HistoryTurn `json:"history"`
}

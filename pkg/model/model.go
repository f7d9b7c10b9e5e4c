// Package model defines the upstream bridge: the boundary between the relay
// and a text generation backend.
package model

import (
	"context"
	"io"

	"github.com/nstogner/expertchat/pkg/domain"
)

// Bridge opens one generation request per turn.
type Bridge interface {
	// Name returns the backend identifier (e.g. "local", "gemini").
	Name() string

	// Generate sends the translated history to the backend and returns its raw
	// output. The bytes are unframed UTF-8 text and may split a code point at
	// any read boundary.
	//
	// Setup failures (dial errors, non-success status) are returned as an
	// *UnreachableError. Failures while reading the returned stream surface as
	// a *StreamError from Read.
	Generate(ctx context.Context, history []domain.HistoryTurn) (io.ReadCloser, error)
}

// Translate converts relay messages into the backend's history vocabulary:
// assistant turns become "model", everything else becomes "user". It is
// applied to every outbound request and its result is never stored.
func Translate(messages []domain.ChatMessage) []domain.HistoryTurn {
	turns := make([]domain.HistoryTurn, 0, len(messages))
	for _, m := range messages {
		role := domain.HistoryRoleUser
		if m.Role == domain.RoleAssistant {
			role = domain.HistoryRoleModel
		}
		turns = append(turns, domain.HistoryTurn{Role: role, Parts: m.Content})
	}
	return turns
}

// ChatHistory converts stored conversation messages into the relay's request
// shape. Failure notices are local to the UI and are left out.
func ChatHistory(messages []domain.Message) []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Error {
			continue
		}
		out = append(out, domain.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

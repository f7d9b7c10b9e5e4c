package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nstogner/expertchat/pkg/domain"
	"github.com/nstogner/expertchat/pkg/model"
	"github.com/nstogner/expertchat/pkg/persona"
	"github.com/nstogner/expertchat/pkg/relay"
	"github.com/nstogner/expertchat/pkg/store"
)

// Plain-text bodies of the chat route's failure responses.
const (
	msgUnknownPersona     = "Expert not found"
	msgUnsupportedPersona = "Expert is not available yet"
	msgBackendError       = "Backend connection error"
)

// maxRequestBody caps a posted history or conversation snapshot.
const maxRequestBody = 8 << 20

// --- Personas ---

func (s *Server) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.personas.List())
}

func (s *Server) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	p, err := s.personas.Get(r.PathValue("personaID"))
	if err != nil {
		errorResponse(w, http.StatusNotFound, err)
		return
	}
	jsonResponse(w, http.StatusOK, p)
}

// --- Chat ---

// bridgeFor resolves the persona's backend or writes the matching error
// response and returns nil.
func (s *Server) bridgeFor(w http.ResponseWriter, personaID string) model.Bridge {
	b, err := s.personas.Bridge(personaID)
	switch {
	case err == nil:
		return b
	case errors.Is(err, persona.ErrUnknownPersona):
		textError(w, http.StatusNotFound, msgUnknownPersona)
	case errors.Is(err, persona.ErrUnsupportedPersona):
		textError(w, http.StatusNotImplemented, msgUnsupportedPersona)
	default:
		slog.Error("Persona dispatch failed", "persona", personaID, "error", err)
		textError(w, http.StatusInternalServerError, msgBackendError)
	}
	return nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	personaID := r.PathValue("personaID")
	bridge := s.bridgeFor(w, personaID)
	if bridge == nil {
		return
	}

	var req domain.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		textError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	ctx := r.Context()
	body, err := bridge.Generate(ctx, model.Translate(req.History))
	if err != nil {
		slog.Error("Error connecting to backend", "persona", personaID, "backend", bridge.Name(), "error", err)
		textError(w, http.StatusInternalServerError, msgBackendError)
		return
	}
	defer body.Close()

	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	stats, err := s.relay.Pump(ctx, relay.ResponseSink(w), body)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("Client went away", "persona", personaID, "frames", stats.Frames)
			return
		}
		// No in-band error frame exists: truncate the response so the
		// client sees a transport failure instead of a clean end.
		slog.Warn("Relay stream failed", "persona", personaID, "frames", stats.Frames, "error", err)
		panic(http.ErrAbortHandler)
	}
	slog.Debug("Relay stream complete", "persona", personaID, "chunks", stats.Chunks, "frames", stats.Frames, "bytes", stats.Bytes)
}

// --- Conversations ---

func (s *Server) conversationsEnabled(w http.ResponseWriter, personaID string) bool {
	if s.conversations == nil {
		errorResponse(w, http.StatusNotImplemented, errors.New("conversation storage is disabled"))
		return false
	}
	if _, err := s.personas.Get(personaID); err != nil {
		errorResponse(w, http.StatusNotFound, err)
		return false
	}
	return true
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	personaID := r.PathValue("personaID")
	if !s.conversationsEnabled(w, personaID) {
		return
	}
	msgs, err := s.conversations.Load(r.Context(), personaID)
	if errors.Is(err, store.ErrNotFound) {
		errorResponse(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	jsonResponse(w, http.StatusOK, msgs)
}

func (s *Server) handlePutConversation(w http.ResponseWriter, r *http.Request) {
	personaID := r.PathValue("personaID")
	if !s.conversationsEnabled(w, personaID) {
		return
	}
	var msgs []domain.Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&msgs); err != nil {
		errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if err := s.conversations.Save(r.Context(), personaID, msgs); err != nil {
		errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	personaID := r.PathValue("personaID")
	if !s.conversationsEnabled(w, personaID) {
		return
	}
	if err := s.conversations.Clear(r.Context(), personaID); err != nil {
		errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

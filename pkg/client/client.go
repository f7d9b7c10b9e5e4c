// Package client talks to the relay: it posts conversation history, decodes
// the framed reply stream, and reads persona and conversation metadata.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/nstogner/expertchat/pkg/domain"
	"github.com/nstogner/expertchat/pkg/model"
	"github.com/nstogner/expertchat/pkg/persona"
	"github.com/nstogner/expertchat/pkg/store"
)

// maxErrorBody caps how much of a failed response is kept as the error message.
const maxErrorBody = 4096

// Client is a relay client.
type Client struct {
	baseURL string
	http    *http.Client
	dialer  *websocket.Dialer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// New returns a client for the relay at baseURL (e.g. "http://localhost:8080").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		dialer:  websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the relay address the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// Chat posts the conversation to the relay and returns the reply fragments
// in arrival order. Failure notices in messages are not sent.
//
// A 404 maps to persona.ErrUnknownPersona and a 501 to
// persona.ErrUnsupportedPersona. Any other non-200 status, or a failed
// connection, is a *model.UnreachableError and no fragments exist. Errors
// after the stream started are yielded by the sequence. The response is
// released when ranging over the sequence ends.
func (c *Client) Chat(ctx context.Context, personaID string, messages []domain.Message) (iter.Seq2[string, error], error) {
	endpoint := c.baseURL + "/api/chat/" + url.PathEscape(personaID)
	body, err := json.Marshal(domain.ChatRequest{History: model.ChatHistory(messages)})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &model.UnreachableError{Endpoint: endpoint, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(endpoint, personaID, resp)
	}

	slog.Debug("Relay stream opened", "persona", personaID, "content_type", resp.Header.Get("Content-Type"))
	return func(yield func(string, error) bool) {
		defer resp.Body.Close()
		for f, err := range NewDecoder().Stream(resp.Body) {
			if !yield(f, err) {
				return
			}
		}
	}, nil
}

// ChatWebSocket is Chat over the relay's WebSocket route. Each text message
// from the relay is fed to the decoder as one chunk.
func (c *Client) ChatWebSocket(ctx context.Context, personaID string, messages []domain.Message) (iter.Seq2[string, error], error) {
	endpoint, err := c.wsURL("/api/chat/" + url.PathEscape(personaID) + "/ws")
	if err != nil {
		return nil, err
	}

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			defer resp.Body.Close()
			return nil, statusError(endpoint, personaID, resp)
		}
		return nil, &model.UnreachableError{Endpoint: endpoint, Err: err}
	}

	if err := conn.WriteJSON(domain.ChatRequest{History: model.ChatHistory(messages)}); err != nil {
		conn.Close()
		return nil, &model.UnreachableError{Endpoint: endpoint, Err: err}
	}

	return func(yield func(string, error) bool) {
		stop := context.AfterFunc(ctx, func() { conn.Close() })
		defer stop()
		defer conn.Close()

		dec := NewDecoder()
		defer dec.Close()
		received := 0
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					return
				}
				if ctxErr := ctx.Err(); ctxErr != nil {
					err = ctxErr
				}
				var ce *websocket.CloseError
				if errors.As(err, &ce) && received == 0 {
					yield("", &model.UnreachableError{Endpoint: endpoint, StatusCode: http.StatusInternalServerError, Message: ce.Text})
					return
				}
				yield("", &model.StreamError{Err: err})
				return
			}
			if kind != websocket.TextMessage {
				continue
			}
			for _, f := range dec.Write(data) {
				received++
				if !yield(f, nil) {
					conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}, nil
}

// Personas lists the relay's persona catalog.
func (c *Client) Personas(ctx context.Context) ([]domain.Persona, error) {
	var out []domain.Persona
	if err := c.getJSON(ctx, "/api/personas", "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Persona returns one persona by id.
func (c *Client) Persona(ctx context.Context, id string) (domain.Persona, error) {
	var out domain.Persona
	if err := c.getJSON(ctx, "/api/personas/"+url.PathEscape(id), id, &out); err != nil {
		return domain.Persona{}, err
	}
	return out, nil
}

// Conversations returns a store backed by the relay's conversation API.
func (c *Client) Conversations() store.ConversationStore {
	return &remoteStore{c: c}
}

func (c *Client) getJSON(ctx context.Context, path, personaID string, v any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(c.baseURL+path, personaID, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &model.UnreachableError{Endpoint: c.baseURL + path, Err: err}
	}
	return resp, nil
}

func (c *Client) wsURL(path string) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}

// statusError maps a non-success relay response to an error value.
func statusError(endpoint, personaID string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	text := strings.TrimSpace(string(data))
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%q: %w", personaID, persona.ErrUnknownPersona)
	case http.StatusNotImplemented:
		return fmt.Errorf("%q: %w", personaID, persona.ErrUnsupportedPersona)
	}
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return &model.UnreachableError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: text}
}

// remoteStore implements store.ConversationStore over the relay's
// /api/conversations routes.
type remoteStore struct {
	c *Client
}

func (s *remoteStore) Load(ctx context.Context, personaID string) ([]domain.Message, error) {
	var msgs []domain.Message
	err := s.c.getJSON(ctx, "/api/conversations/"+url.PathEscape(personaID), personaID, &msgs)
	if errors.Is(err, persona.ErrUnknownPersona) {
		// The relay answers 404 for both a missing persona and a missing snapshot.
		return nil, store.ErrNotFound
	}
	return msgs, err
}

func (s *remoteStore) Save(ctx context.Context, personaID string, messages []domain.Message) error {
	if messages == nil {
		messages = []domain.Message{}
	}
	return s.send(ctx, http.MethodPut, personaID, messages)
}

func (s *remoteStore) Clear(ctx context.Context, personaID string) error {
	return s.send(ctx, http.MethodDelete, personaID, nil)
}

func (s *remoteStore) send(ctx context.Context, method, personaID string, body any) error {
	path := "/api/conversations/" + url.PathEscape(personaID)
	resp, err := s.c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return statusError(s.c.baseURL+path, personaID, resp)
	}
	return nil
}

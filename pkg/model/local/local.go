// Package local implements model.Bridge for a generation backend reachable
// over HTTP. The backend accepts {"history":[{"role","parts"}]} and answers
// with a raw chunked stream of generated text.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nstogner/expertchat/pkg/domain"
	"github.com/nstogner/expertchat/pkg/model"
)

// DefaultEndpoint is where the local generation backend listens.
const DefaultEndpoint = "http://localhost:8000/ask"

// maxErrorBody caps how much of a failed response is read for diagnostics.
const maxErrorBody = 4096

// Bridge implements model.Bridge over HTTP.
type Bridge struct {
	endpoint string
	client   *http.Client
	tracer   trace.Tracer
}

// Verify interface compliance.
var _ model.Bridge = (*Bridge)(nil)

// Option configures a Bridge.
type Option func(*Bridge)

// WithHTTPClient overrides the HTTP client used for generation requests.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Bridge) { b.client = c }
}

// New creates a bridge to the given endpoint. An empty endpoint selects
// DefaultEndpoint.
func New(endpoint string, opts ...Option) *Bridge {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	b := &Bridge{
		endpoint: endpoint,
		// No timeout: replies stream for as long as the model talks. Each turn
		// gets its own connection.
		client: &http.Client{Transport: &http.Transport{
			Proxy:             http.ProxyFromEnvironment,
			DisableKeepAlives: true,
		}},
		tracer: otel.Tracer("github.com/nstogner/expertchat/pkg/model/local"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the backend identifier.
func (b *Bridge) Name() string { return domain.BackendLocal }

// Endpoint returns the backend URL.
func (b *Bridge) Endpoint() string { return b.endpoint }

// Generate posts the history and returns the raw response body.
func (b *Bridge) Generate(ctx context.Context, history []domain.HistoryTurn) (io.ReadCloser, error) {
	ctx, span := b.tracer.Start(ctx, "upstream.generate",
		trace.WithAttributes(
			attribute.String("upstream.endpoint", b.endpoint),
			attribute.Int("history.length", len(history)),
		),
	)

	body, err := json.Marshal(domain.UpstreamRequest{History: history})
	if err != nil {
		span.End()
		return nil, fmt.Errorf("marshal upstream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		span.End()
		return nil, &model.UnreachableError{Endpoint: b.endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	slog.Debug("Local.Generate", "endpoint", b.endpoint, "turns", len(history))

	resp, err := b.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		span.End()
		return nil, &model.UnreachableError{Endpoint: b.endpoint, Err: err}
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg := errorMessage(resp)
		span.SetStatus(codes.Error, msg)
		span.End()
		return nil, &model.UnreachableError{
			Endpoint:   b.endpoint,
			StatusCode: resp.StatusCode,
			Message:    msg,
		}
	}

	return &streamBody{rc: resp.Body, span: span}, nil
}

// errorMessage extracts a human readable reason from a failed response.
// FastAPI style {"detail": ...} bodies are unwrapped.
func errorMessage(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if gjson.ValidBytes(data) {
		if detail := gjson.GetBytes(data, "detail"); detail.Exists() {
			if detail.Type == gjson.String {
				return detail.String()
			}
			return detail.Raw
		}
		if msg := gjson.GetBytes(data, "error"); msg.Exists() {
			return msg.String()
		}
	}
	if text := strings.TrimSpace(string(data)); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

// streamBody classifies read failures as stream errors and ends the span
// when the relay is done with the body.
type streamBody struct {
	rc    io.ReadCloser
	span  trace.Span
	bytes int64
}

func (s *streamBody) Read(p []byte) (int, error) {
	n, err := s.rc.Read(p)
	s.bytes += int64(n)
	if err != nil && !errors.Is(err, io.EOF) {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, "stream interrupted")
		return n, &model.StreamError{Err: err}
	}
	return n, err
}

func (s *streamBody) Close() error {
	s.span.SetAttributes(attribute.Int64("upstream.bytes", s.bytes))
	s.span.End()
	return s.rc.Close()
}

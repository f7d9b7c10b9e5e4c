// Package relay re-frames a raw upstream byte stream into the frame wire
// format, one frame per upstream chunk, preserving arrival order.
package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/nstogner/expertchat/pkg/frame"
	"github.com/nstogner/expertchat/pkg/model"
)

// DefaultChunkSize bounds a single upstream read.
const DefaultChunkSize = 32 * 1024

const instrumentationName = "github.com/nstogner/expertchat/pkg/relay"

// Sink receives encoded frames. Flush is called after every frame so the
// client sees each fragment as soon as it exists.
type Sink interface {
	Write(p []byte) (int, error)
	Flush() error
}

// Stats summarizes one pumped stream.
type Stats struct {
	Chunks int
	Frames int
	Bytes  int64
}

// Relay pumps upstream bytes into a Sink.
type Relay struct {
	chunkSize int
	tracer    trace.Tracer
	frames    metric.Int64Counter
	bytes     metric.Int64Counter
}

// Option configures a Relay.
type Option func(*Relay)

// WithChunkSize sets the upstream read size.
func WithChunkSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.chunkSize = n
		}
	}
}

// New creates a Relay using the global OpenTelemetry providers.
func New(opts ...Option) *Relay {
	meter := otel.Meter(instrumentationName)
	r := &Relay{
		chunkSize: DefaultChunkSize,
		tracer:    otel.Tracer(instrumentationName),
		frames:    counter(meter, "relay.frames", "Frames written to clients"),
		bytes:     counter(meter, "relay.upstream_bytes", "Raw bytes read from upstream"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		slog.Warn("Failed to create counter", "name", name, "error", err)
		return noop.Int64Counter{}
	}
	return c
}

// Pump reads src one chunk at a time, decodes each chunk as UTF-8 (carrying
// split code points over to the next chunk) and writes it to dst as a single
// frame. It returns nil when src ends cleanly. There is no completion frame:
// the caller closing dst is the completion signal.
//
// An upstream read failure is returned as a *model.StreamError; a sink
// failure is returned as is. Either way the caller must treat the output as
// truncated.
func (r *Relay) Pump(ctx context.Context, dst Sink, src io.Reader) (Stats, error) {
	ctx, span := r.tracer.Start(ctx, "relay.pump")
	defer span.End()

	var stats Stats
	dec := frame.NewTextDecoder()
	buf := make([]byte, r.chunkSize)
	var out []byte

	emit := func(text string) error {
		out = frame.AppendEncode(out[:0], text)
		if _, err := dst.Write(out); err != nil {
			return err
		}
		if err := dst.Flush(); err != nil {
			return err
		}
		stats.Frames++
		r.frames.Add(ctx, 1)
		return nil
	}

	finish := func(err error) (Stats, error) {
		span.SetAttributes(
			attribute.Int("relay.chunks", stats.Chunks),
			attribute.Int("relay.frames", stats.Frames),
			attribute.Int64("relay.bytes", stats.Bytes),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return stats, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}

		n, err := src.Read(buf)
		if n > 0 {
			stats.Chunks++
			stats.Bytes += int64(n)
			r.bytes.Add(ctx, int64(n))
			if text := dec.Decode(buf[:n]); text != "" {
				if werr := emit(text); werr != nil {
					return finish(werr)
				}
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			if tail := dec.Flush(); tail != "" {
				if werr := emit(tail); werr != nil {
					return finish(werr)
				}
			}
			return finish(nil)
		default:
			var se *model.StreamError
			if !errors.As(err, &se) {
				err = &model.StreamError{Err: err}
			}
			return finish(err)
		}
	}
}

// ResponseSink adapts an HTTP response for streaming.
func ResponseSink(w http.ResponseWriter) Sink {
	return &responseSink{w: w, rc: http.NewResponseController(w)}
}

type responseSink struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func (s *responseSink) Write(p []byte) (int, error) { return s.w.Write(p) }

func (s *responseSink) Flush() error {
	err := s.rc.Flush()
	if errors.Is(err, http.ErrNotSupported) {
		return nil
	}
	return err
}

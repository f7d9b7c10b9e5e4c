package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/nstogner/expertchat/pkg/model"
)

// chunkReader returns one chunk per Read, then err (io.EOF if nil).
type chunkReader struct {
	chunks [][]byte
	err    error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if len(r.chunks[0]) == 0 {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func chunks(parts ...string) *chunkReader {
	r := &chunkReader{}
	for _, p := range parts {
		r.chunks = append(r.chunks, []byte(p))
	}
	return r
}

type bufferSink struct {
	bytes.Buffer
	flushes  int
	writeErr error
}

func (s *bufferSink) Write(p []byte) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	return s.Buffer.Write(p)
}

func (s *bufferSink) Flush() error {
	s.flushes++
	return nil
}

func TestPumpOneFramePerChunk(t *testing.T) {
	sink := &bufferSink{}
	stats, err := New().Pump(context.Background(), sink, chunks("삼성", "전자는 ", "좋은 기업이네."))
	if err != nil {
		t.Fatalf("Pump: %v", err)
	}

	want := "0:\"삼성\"\n0:\"전자는 \"\n0:\"좋은 기업이네.\"\n"
	if got := sink.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
	if stats.Frames != 3 || stats.Chunks != 3 {
		t.Errorf("stats = %+v, want 3 chunks and 3 frames", stats)
	}
	if sink.flushes != 3 {
		t.Errorf("flushes = %d, want 3", sink.flushes)
	}
}

func TestPumpSplitCodePoint(t *testing.T) {
	raw := []byte("삼성")
	sink := &bufferSink{}
	src := &chunkReader{chunks: [][]byte{raw[:1], raw[1:4], raw[4:]}}

	if _, err := New().Pump(context.Background(), sink, src); err != nil {
		t.Fatalf("Pump: %v", err)
	}

	// The first chunk is an incomplete code point and produces no frame.
	want := "0:\"삼\"\n0:\"성\"\n"
	if got := sink.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestPumpEmptyUpstream(t *testing.T) {
	sink := &bufferSink{}
	stats, err := New().Pump(context.Background(), sink, chunks())
	if err != nil {
		t.Fatalf("Pump: %v", err)
	}
	if sink.Len() != 0 || stats.Frames != 0 {
		t.Errorf("output = %q, frames = %d, want nothing", sink.String(), stats.Frames)
	}
}

func TestPumpSmallChunkSize(t *testing.T) {
	sink := &bufferSink{}
	if _, err := New(WithChunkSize(2)).Pump(context.Background(), sink, chunks("abcde")); err != nil {
		t.Fatalf("Pump: %v", err)
	}
	want := "0:\"ab\"\n0:\"cd\"\n0:\"e\"\n"
	if got := sink.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestPumpUpstreamError(t *testing.T) {
	sink := &bufferSink{}
	src := chunks("partial")
	src.err = io.ErrUnexpectedEOF

	stats, err := New().Pump(context.Background(), sink, src)
	if !errors.Is(err, model.ErrUpstreamStream) {
		t.Fatalf("error = %v, want ErrUpstreamStream", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("error = %v, want it to wrap io.ErrUnexpectedEOF", err)
	}
	if stats.Frames != 1 {
		t.Errorf("frames = %d, want 1 frame before the failure", stats.Frames)
	}
	if got, want := sink.String(), "0:\"partial\"\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestPumpSinkError(t *testing.T) {
	sink := &bufferSink{writeErr: io.ErrClosedPipe}
	_, err := New().Pump(context.Background(), sink, chunks("x"))
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("error = %v, want io.ErrClosedPipe", err)
	}
}

func TestPumpCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Pump(ctx, &bufferSink{}, chunks("x"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

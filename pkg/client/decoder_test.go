package client

import (
	"errors"
	"io"
	"slices"
	"strings"
	"testing"

	"github.com/nstogner/expertchat/pkg/frame"
	"github.com/nstogner/expertchat/pkg/model"
)

func decodeAll(chunks ...[]byte) []string {
	d := NewDecoder()
	var out []string
	for _, c := range chunks {
		out = append(out, d.Write(c)...)
	}
	d.Close()
	return out
}

func TestDecoderSingleChunk(t *testing.T) {
	var wire []byte
	for _, f := range []string{"삼성", "전자는 ", "좋은 기업이네."} {
		wire = frame.AppendEncode(wire, f)
	}

	got := decodeAll(wire)
	want := []string{"삼성", "전자는 ", "좋은 기업이네."}
	if !slices.Equal(got, want) {
		t.Errorf("fragments = %q, want %q", got, want)
	}
}

func TestDecoderEverySplitPoint(t *testing.T) {
	fragments := []string{"삼성", "a \"quoted\" line\nnext", "", "끝\\"}
	var wire []byte
	for _, f := range fragments {
		wire = frame.AppendEncode(wire, f)
	}

	for i := 0; i <= len(wire); i++ {
		for j := i; j <= len(wire); j++ {
			got := decodeAll(wire[:i], wire[i:j], wire[j:])
			if !slices.Equal(got, fragments) {
				t.Fatalf("split at %d,%d: fragments = %q, want %q", i, j, got, fragments)
			}
		}
	}
}

func TestDecoderByteAtATime(t *testing.T) {
	wire := frame.Encode("워렌 버핏")
	var chunks [][]byte
	for i := range wire {
		chunks = append(chunks, wire[i:i+1])
	}
	if got := decodeAll(chunks...); !slices.Equal(got, []string{"워렌 버핏"}) {
		t.Errorf("fragments = %q", got)
	}
}

func TestDecoderIncompleteTrailingFrame(t *testing.T) {
	d := NewDecoder()
	if got := d.Write([]byte(`0:"abc`)); len(got) != 0 {
		t.Errorf("fragments = %q, want none", got)
	}
	if n := d.Close(); n != len(`0:"abc`) {
		t.Errorf("Close discarded %d bytes, want %d", n, len(`0:"abc`))
	}
}

func TestDecoderSkipsMalformedLines(t *testing.T) {
	d := NewDecoder()
	got := d.Write([]byte("garbage\n0:\"ok\"\n0:nope\n"))
	if !slices.Equal(got, []string{"ok"}) {
		t.Errorf("fragments = %q, want [ok]", got)
	}
	if d.Dropped() != 2 {
		t.Errorf("Dropped = %d, want 2", d.Dropped())
	}
}

func TestDecoderStream(t *testing.T) {
	wire := string(frame.Encode("hello")) + string(frame.Encode("world")) + `0:"cut`
	var got []string
	for f, err := range NewDecoder().Stream(strings.NewReader(wire)) {
		if err != nil {
			t.Fatalf("Stream: %v", err)
		}
		got = append(got, f)
	}
	if !slices.Equal(got, []string{"hello", "world"}) {
		t.Errorf("fragments = %q", got)
	}
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestDecoderStreamError(t *testing.T) {
	r := &failingReader{data: frame.Encode("partial"), err: io.ErrUnexpectedEOF}

	var got []string
	var streamErr error
	for f, err := range NewDecoder().Stream(r) {
		if err != nil {
			streamErr = err
			break
		}
		got = append(got, f)
	}
	if !slices.Equal(got, []string{"partial"}) {
		t.Errorf("fragments = %q", got)
	}
	if !errors.Is(streamErr, model.ErrUpstreamStream) {
		t.Errorf("error = %v, want ErrUpstreamStream", streamErr)
	}
}

func TestDecoderStreamStopsEarly(t *testing.T) {
	wire := string(frame.Encode("a")) + string(frame.Encode("b"))
	var got []string
	for f := range NewDecoder().Stream(strings.NewReader(wire)) {
		got = append(got, f)
		break
	}
	if !slices.Equal(got, []string{"a"}) {
		t.Errorf("fragments = %q", got)
	}
}

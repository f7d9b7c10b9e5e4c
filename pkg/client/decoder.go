package client

import (
	"errors"
	"io"
	"iter"
	"log/slog"
	"strings"

	"github.com/nstogner/expertchat/pkg/frame"
	"github.com/nstogner/expertchat/pkg/model"
)

// DefaultReadSize bounds a single read from the relay response.
const DefaultReadSize = 4096

// Decoder reassembles frames from a byte stream that may be split at any
// point. It holds state for exactly one stream.
type Decoder struct {
	text    *frame.TextDecoder
	buf     strings.Builder
	dropped int
}

// NewDecoder returns a Decoder with an empty buffer.
func NewDecoder() *Decoder {
	return &Decoder{text: frame.NewTextDecoder()}
}

// Write consumes one network chunk and returns the fragments it completed,
// in order. Lines that are not frames are skipped.
func (d *Decoder) Write(chunk []byte) []string {
	d.buf.WriteString(d.text.Decode(chunk))

	pending := d.buf.String()
	last := strings.LastIndexByte(pending, '\n')
	if last < 0 {
		return nil
	}

	var fragments []string
	for _, line := range strings.Split(pending[:last], "\n") {
		if !strings.HasPrefix(line, frame.Prefix) {
			if line != "" {
				d.dropped++
				slog.Debug("Dropping non-frame line", "bytes", len(line))
			}
			continue
		}
		fragment, err := frame.DecodeLine(line)
		if err != nil {
			d.dropped++
			slog.Debug("Dropping malformed frame", "error", err)
			continue
		}
		fragments = append(fragments, fragment)
	}

	tail := pending[last+1:]
	d.buf.Reset()
	d.buf.WriteString(tail)
	return fragments
}

// Close ends the stream. An unterminated trailing line is not a frame and
// is discarded; Close reports how many bytes were thrown away.
func (d *Decoder) Close() int {
	n := d.buf.Len() + d.text.Pending()
	d.buf.Reset()
	d.text = frame.NewTextDecoder()
	return n
}

// Dropped reports how many complete lines were skipped so far.
func (d *Decoder) Dropped() int {
	return d.dropped
}

// Stream returns the fragments read from r. The sequence is lazy and can be
// ranged over once: each chunk is fully decoded and its fragments yielded
// before the next read. A read failure other than io.EOF is yielded as a
// *model.StreamError and ends the sequence.
func (d *Decoder) Stream(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		defer d.Close()
		buf := make([]byte, DefaultReadSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				for _, f := range d.Write(buf[:n]) {
					if !yield(f, nil) {
						return
					}
				}
			}
			if err == nil {
				continue
			}
			if errors.Is(err, io.EOF) {
				if n := d.Close(); n > 0 {
					slog.Debug("Discarding unterminated frame", "bytes", n)
				}
				return
			}
			var se *model.StreamError
			if !errors.As(err, &se) {
				err = &model.StreamError{Err: err}
			}
			yield("", err)
			return
		}
	}
}

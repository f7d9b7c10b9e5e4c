package frame

import (
	"bytes"
	"errors"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// TextDecoder turns a sequence of byte chunks into UTF-8 text. A multi-byte
// sequence split across chunks is held back until the rest of it arrives,
// so chunk boundaries never produce replacement characters.
//
// A TextDecoder belongs to a single stream and is not safe for concurrent use.
type TextDecoder struct {
	t       transform.Transformer
	pending []byte
	buf     [4096]byte
}

// NewTextDecoder returns a decoder with no pending bytes.
func NewTextDecoder() *TextDecoder {
	return &TextDecoder{t: unicode.UTF8.NewDecoder()}
}

// Decode returns the text completed by chunk. Bytes of an unfinished code
// point are kept for the next call.
func (d *TextDecoder) Decode(chunk []byte) string {
	return d.transform(chunk, false)
}

// Flush ends the stream. Any leftover partial sequence is returned as U+FFFD.
func (d *TextDecoder) Flush() string {
	return d.transform(nil, true)
}

// Pending reports how many bytes are held back waiting for more input.
func (d *TextDecoder) Pending() int {
	return len(d.pending)
}

func (d *TextDecoder) transform(chunk []byte, atEOF bool) string {
	src := append(d.pending, chunk...)
	var out strings.Builder
	for {
		nDst, nSrc, err := d.t.Transform(d.buf[:], src, atEOF)
		out.Write(d.buf[:nDst])
		src = src[nSrc:]
		if errors.Is(err, transform.ErrShortDst) {
			continue
		}
		// nil or ErrShortSrc: whatever is left is an unfinished code point.
		break
	}
	d.pending = bytes.Clone(src)
	return out.String()
}

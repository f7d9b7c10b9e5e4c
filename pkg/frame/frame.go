// Package frame implements the line-oriented wire format the relay uses to
// carry text fragments to clients.
//
// A frame is the literal prefix "0:", the fragment as a JSON string literal and
// a single trailing newline:
//
//	0:"Hello, \"world\"\n"\n
//
// The JSON encoding guarantees a frame never contains a raw newline, so frames
// can be concatenated with no other separator. There is no end-of-stream or
// error frame; those are signalled by the transport.
package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Prefix starts every frame.
const Prefix = "0:"

// ErrMalformedFrame is returned by DecodeLine for lines that are not frames.
var ErrMalformedFrame = errors.New("malformed frame")

// Encode returns the frame carrying fragment.
func Encode(fragment string) []byte {
	return AppendEncode(nil, fragment)
}

// AppendEncode appends the frame carrying fragment to dst.
func AppendEncode(dst []byte, fragment string) []byte {
	buf := bytes.NewBuffer(dst)
	buf.WriteString(Prefix)
	enc := json.NewEncoder(buf)
	// Keep <, > and & literal so frames match a plain JSON stringify.
	enc.SetEscapeHTML(false)
	// Encoding a string cannot fail; Encode also writes the trailing newline.
	_ = enc.Encode(fragment)
	return buf.Bytes()
}

// DecodeLine decodes one frame whose trailing newline has been stripped.
func DecodeLine(line string) (string, error) {
	rest, ok := strings.CutPrefix(line, Prefix)
	if !ok {
		return "", fmt.Errorf("%w: missing %q prefix", ErrMalformedFrame, Prefix)
	}
	// json.Unmarshal would accept null into a string, so require a literal.
	if !strings.HasPrefix(rest, `"`) {
		return "", fmt.Errorf("%w: payload is not a JSON string", ErrMalformedFrame)
	}
	var fragment string
	if err := json.Unmarshal([]byte(rest), &fragment); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return fragment, nil
}

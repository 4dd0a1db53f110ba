package parser

import (
	"bytes"
	"strings"
)

// MaxLineBytes caps a line that never sees a terminator; the buffered
// bytes are emitted as one line once the cap is reached.
const MaxLineBytes = 16 * 1024

// Framer splits a byte stream on '\n'. Bytes after the last terminator
// stay buffered until the next Push.
type Framer struct {
	buf []byte
}

// Push appends chunk and returns every completed line.
func (f *Framer) Push(chunk []byte) []string {
	f.buf = append(f.buf, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(f.buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, decodeLine(f.buf[:i]))
		f.buf = f.buf[i+1:]
	}
	if len(f.buf) >= MaxLineBytes {
		lines = append(lines, decodeLine(f.buf))
		f.buf = nil
	}
	if len(f.buf) == 0 {
		f.buf = nil
	}
	return lines
}

// Flush returns the buffered partial line, if any.
func (f *Framer) Flush() (string, bool) {
	if len(f.buf) == 0 {
		return "", false
	}
	line := decodeLine(f.buf)
	f.buf = nil
	return line, true
}

// decodeLine strips one trailing CR and replaces invalid UTF-8.
func decodeLine(b []byte) string {
	b = bytes.TrimSuffix(b, []byte{'\r'})
	return strings.ToValidUTF8(string(b), "�")
}

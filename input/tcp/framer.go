package tcp

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// Framer recovers array elements from the capture feed. The feed is a
// pretty-printed JSON array, one field per line; an element ends where a
// line "}," is followed by a line "{".
//
// Every line is kept, so the emitted document is the accumulated text minus
// a leading '[' and the separating comma. The last element of the array is
// never terminated by the pattern and is not emitted. A value that itself
// spans a "}," / "{" line pair would be split; the capture format does not
// produce one.
//
// Buffered text is capped at MaxPending bytes, DefaultMaxPending when zero.
// Past the cap the partial document is discarded and OnOverflow is told how
// many bytes were lost.
type Framer struct {
	MaxPending int
	OnOverflow func(dropped int)

	buf    []byte
	mayEnd bool
}

// DefaultMaxPending bounds one document. Captured ITS messages are a few
// kilobytes; a MAPEM with many lanes stays well below this.
const DefaultMaxPending = 4 << 20

func (f *Framer) limit() int {
	if f.MaxPending > 0 {
		return f.MaxPending
	}
	return DefaultMaxPending
}

func (f *Framer) overflow(dropped int) {
	f.Reset()
	if f.OnOverflow != nil {
		f.OnOverflow(dropped)
	}
}

// Push feeds one line, without its terminator, and returns a completed
// document if this line closed one.
func (f *Framer) Push(line string) ([]byte, bool) {
	var doc []byte
	trimmed := strings.TrimSpace(line)

	if f.mayEnd && trimmed == "{" {
		f.mayEnd = false
		body := bytes.TrimPrefix(f.buf, []byte("["))
		if len(body) > 0 {
			body = body[:len(body)-1]
		}
		doc = append([]byte(nil), body...)
		f.buf = f.buf[:0]
	}

	if len(f.buf)+len(line) > f.limit() {
		f.overflow(len(f.buf) + len(line))
		return doc, doc != nil
	}
	f.buf = append(f.buf, line...)

	if trimmed == "}," {
		f.mayEnd = true
	}
	return doc, doc != nil
}

// Reset drops any partially accumulated document
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.mayEnd = false
}

// Pending returns the number of buffered bytes
func (f *Framer) Pending() int {
	return len(f.buf)
}

// Scan reads lines from r until EOF, calling emit for every recovered
// document. A final line without a terminator is still pushed. A line longer
// than the cap is skipped up to its terminator. Scan returns nil on EOF and
// stops early when emit returns an error.
func (f *Framer) Scan(r io.Reader, emit func(doc []byte) error) error {
	reader := bufio.NewReader(r)
	var line []byte
	skipping := false
	for {
		chunk, err := reader.ReadSlice('\n')
		if !skipping {
			if len(line)+len(chunk) > f.limit() {
				f.overflow(len(line) + len(chunk))
				line = line[:0]
				skipping = true
			} else {
				line = append(line, chunk...)
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}

		if !skipping && len(line) > 0 {
			if doc, ok := f.Push(strings.TrimRight(string(line), "\r\n")); ok {
				if emitErr := emit(doc); emitErr != nil {
					return emitErr
				}
			}
		}
		line = line[:0]
		skipping = false

		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

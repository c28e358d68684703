package sse

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

const (
	initialBufferSize = 64 * 1024
	// MaxLineSize is the longest line the Reader accepts. Longer lines are
	// discarded.
	MaxLineSize = 1024 * 1024
)

func NewReader(r io.Reader) *Reader {
	reader := &Reader{
		scanner: bufio.NewScanner(r),
	}
	reader.scanner.Buffer(make([]byte, 0, initialBufferSize), MaxLineSize)
	reader.scanner.Split(reader.scanLines)
	return reader
}

// Reader reads the data payloads of a line delimited event stream.
type Reader struct {
	scanner *bufio.Scanner
	// discarding is set while the remainder of an overlong line is skipped.
	discarding bool
}

// Next returns the payload of the next data line. Blank lines, comments and
// other field names are skipped, as are lines longer than MaxLineSize. At the
// end of the stream, Next returns io.EOF.
//
// Each call reads only as many lines as it needs to find a payload, so the
// caller controls how far ahead of its own writes the stream is consumed.
func (r *Reader) Next() (data string, err error) {
	for r.scanner.Scan() {
		data, ok := parseDataLine(r.scanner.Text())
		if !ok {
			continue
		}
		return data, nil
	}
	if err = r.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// scanLines splits on newlines like bufio.ScanLines, but drops lines that
// don't fit in the buffer instead of failing.
func (r *Reader) scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if r.discarding {
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			r.discarding = false
			return i + 1, nil, nil
		}
		return len(data), nil, nil
	}
	advance, token, err = bufio.ScanLines(data, atEOF)
	if advance == 0 && token == nil && err == nil && len(data) >= MaxLineSize {
		r.discarding = true
		return len(data), nil, nil
	}
	return advance, token, err
}

func parseDataLine(line string) (data string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}
	data, ok = strings.CutPrefix(line, "data:")
	if !ok {
		return "", false
	}
	return strings.TrimSpace(data), true
}

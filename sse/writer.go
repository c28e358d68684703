package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

func NewWriter(w http.ResponseWriter) *Writer {
	return &Writer{
		w: w,
	}
}

// Writer writes JSON values as data events, flushing after each one.
type Writer struct {
	w   http.ResponseWriter
	buf bytes.Buffer
}

func (sw *Writer) WriteData(v any) (err error) {
	sw.buf.Reset()
	sw.buf.WriteString("data: ")
	enc := json.NewEncoder(&sw.buf)
	enc.SetEscapeHTML(false)
	if err = enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	// Encode terminates the value with a newline, one more ends the event.
	sw.buf.WriteByte('\n')
	if _, err = sw.w.Write(sw.buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if flusher, canFlush := sw.w.(http.Flusher); canFlush {
		flusher.Flush()
	}
	return nil
}

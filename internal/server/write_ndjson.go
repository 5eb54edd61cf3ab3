package server

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"example.com/xtfgate/internal/rules"
)

// NDJSONWriter streams newline-delimited JSON objects to the underlying
// writer, flushing after every record when the writer supports it.
type NDJSONWriter struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
}

func NewNDJSONWriter(w http.ResponseWriter) *NDJSONWriter {
	var flusher http.Flusher
	if f, ok := w.(http.Flusher); ok {
		flusher = f
	}
	return &NDJSONWriter{writer: w, flusher: flusher}
}

// WriteDiagnostic writes one diagnostic as a single NDJSON record.
func (w *NDJSONWriter) WriteDiagnostic(d rules.Diagnostic) error {
	return w.WriteObject(d)
}

func (w *NDJSONWriter) WriteObject(v any) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.writer.Write(data); err != nil {
		return err
	}
	if _, err := w.writer.Write([]byte("\n")); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

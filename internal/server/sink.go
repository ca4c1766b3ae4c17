package server

import (
	"io"
	"net/http"
)

// httpSink streams protocol frames over a chunked HTTP response, flushing
// after every frame so clients see deltas as they are produced.
type httpSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	wrote   bool
}

func newHTTPSink(w http.ResponseWriter) *httpSink {
	flusher, _ := w.(http.Flusher)
	return &httpSink{w: w, flusher: flusher}
}

func (s *httpSink) Write(frame string) error {
	if _, err := io.WriteString(s.w, frame); err != nil {
		return err
	}
	s.wrote = true
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// Close is a no-op: the response ends when the handler returns.
func (s *httpSink) Close() error { return nil }

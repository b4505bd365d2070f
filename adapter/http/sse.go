package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/membranehq/ai-agent-example/genai/streaming"
	"github.com/membranehq/ai-agent-example/internal/chaterr"
)

// sseSink writes streaming frames as server-sent events, one JSON-encoded
// frame per data event. Headers are sent lazily on the first frame so a
// failure before any output can still produce a regular error response.
type sseSink struct {
	writer  http.ResponseWriter
	flusher http.Flusher

	mux      sync.Mutex
	opened   bool
	finished bool
}

func newSSESink(w http.ResponseWriter) (*sseSink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, chaterr.New(chaterr.CodeBadRequest, chaterr.SurfaceStream)
	}
	return &sseSink{writer: w, flusher: flusher}, nil
}

func (s *sseSink) Write(frame streaming.Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	s.open()
	if _, err := fmt.Fprintf(s.writer, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	if frame.Type == streaming.FrameFinish {
		s.finished = true
	}
	return nil
}

// writeError emits an error frame mid-stream with the safe user message. It
// is a no-op once the finish frame has gone out; finish ends the stream.
func (s *sseSink) writeError(err error) error {
	s.mux.Lock()
	done := s.finished
	s.mux.Unlock()
	if done {
		return nil
	}
	return s.Write(streaming.ErrorFrame(chaterr.FromError(err).Message()))
}

func (s *sseSink) started() bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.opened
}

func (s *sseSink) open() {
	if s.opened {
		return
	}
	header := s.writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	s.writer.WriteHeader(http.StatusOK)
	s.opened = true
}

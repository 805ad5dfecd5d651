package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// PrintSink serializes every envelope to JSON and writes it to stdout,
// one object per line. Sends are direct, ordered side effects; useful
// for debugging and tests.
type PrintSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPrintSink creates a sink writing to stdout.
func NewPrintSink() *PrintSink {
	return &PrintSink{w: os.Stdout}
}

// NewPrintSinkTo creates a sink writing to w.
func NewPrintSinkTo(w io.Writer) *PrintSink {
	return &PrintSink{w: w}
}

// Send wraps data in an envelope and writes it.
func (s *PrintSink) Send(dataType string, data interface{}) error {
	return s.SendEnvelope(NewEnvelope(dataType, data))
}

// SendEnvelope writes a pre-built envelope.
func (s *PrintSink) SendEnvelope(env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("serialize envelope: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintln(s.w, string(payload)); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}

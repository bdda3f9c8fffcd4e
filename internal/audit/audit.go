// Package audit appends request and response records to a JSONL trail.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type Direction string

const (
	DirectionRequest  Direction = "request"
	DirectionResponse Direction = "response"
)

// Record is one audited exchange leg. Payload holds the canonical form, not
// any vendor wire format.
type Record struct {
	Timestamp time.Time       `json:"timestamp"`
	Direction Direction       `json:"direction"`
	Provider  string          `json:"provider"`
	Model     string          `json:"model"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Sink persists audit records. A nil *FileSink is a no-op sink, so callers
// never branch on whether auditing is configured.
type Sink interface {
	Write(rec Record) error
	Close() error
}

// FileSink appends records to a single JSONL file, one record per line.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	return &FileSink{file: f, enc: json.NewEncoder(f)}, nil
}

func (s *FileSink) Write(rec Record) error {
	if s == nil {
		return nil
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(rec)
}

func (s *FileSink) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// File appends JSONL audit records to a file. Every failure mode (mkdir,
// open, marshal, write) is swallowed: the audit trail is best-effort and
// must never interfere with the caller.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile returns a Sink that appends to path.
func NewFile(path string) *File {
	return &File{path: path}
}

type fileRecord struct {
	TS      time.Time      `json:"ts"`
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload"`
}

// Emit implements Sink.
func (f *File) Emit(_ context.Context, kind string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	line, err := json.Marshal(fileRecord{TS: time.Now().UTC(), Kind: kind, Payload: payload})
	if err != nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return
	}
	fh, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer func() { _ = fh.Close() }()

	_, _ = fh.Write(append(line, '\n'))
}

package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"imessage-undeleter/internal/tracker"
)

// FileSink appends one JSON document per record to a file. Each record is
// written with a single Write so a crash never leaves half a line behind.
type FileSink struct {
	name   string
	path   string
	pretty bool

	mu sync.Mutex
	f  *os.File
}

var _ tracker.Sink = (*FileSink)(nil)

func NewFileSink(name, path string, pretty bool) *FileSink {
	return &FileSink{name: name, path: path, pretty: pretty}
}

func (s *FileSink) Name() string { return s.name }

func (s *FileSink) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("creating directory for %s: %w", s.path, err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("opening %s: %w", s.path, err)
	}
	s.f = f
	return nil
}

func (s *FileSink) Deliver(ctx context.Context, rec *tracker.DeletionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return deliverError(s.name, rec, errNotInitialized)
	}

	var data []byte
	var err error
	if s.pretty {
		data, err = json.MarshalIndent(rec, "", "  ")
	} else {
		data, err = json.Marshal(rec)
	}
	if err != nil {
		return deliverError(s.name, rec, err)
	}

	if _, err := s.f.Write(append(data, '\n')); err != nil {
		return deliverError(s.name, rec, err)
	}
	return nil
}

func (s *FileSink) Finalize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", s.path, err)
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// ReadFileRecords decodes every record from a file written by FileSink,
// compact or pretty.
func ReadFileRecords(path string) ([]*tracker.DeletionRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []*tracker.DeletionRecord
	dec := json.NewDecoder(f)
	for {
		var rec tracker.DeletionRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, fmt.Errorf("decoding record %d: %w", len(out)+1, err)
		}
		out = append(out, &rec)
	}
}

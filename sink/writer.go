package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/Pharos-AI/utils/entry"
)

// Redactor masks sensitive values before a record leaves the process.
// *storage.Scrubber implements it.
type Redactor interface {
	ScrubRecord(r entry.Record) entry.Record
}

// Writer writes one JSON object per record, newline terminated. A batch is
// written with a single Write call.
type Writer struct {
	mu       sync.Mutex
	out      io.Writer
	redactor Redactor
}

func NewWriter(out io.Writer, redactor Redactor) *Writer {
	return &Writer{out: out, redactor: redactor}
}

func (s *Writer) Send(ctx context.Context, records []entry.Record) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if s.redactor != nil {
			r = s.redactor.ScrubRecord(r)
		}
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode record %s: %w", r.ID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.out.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	return nil
}

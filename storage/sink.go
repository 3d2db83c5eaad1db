package storage

import (
	"context"

	"github.com/Pharos-AI/utils/entry"
)

// DBSink persists flushed batches locally. It satisfies buffer.Sink.
type DBSink struct {
	repo     EntryRepo
	scrubber *Scrubber
}

func NewDBSink(repo EntryRepo, scrubber *Scrubber) *DBSink {
	return &DBSink{repo: repo, scrubber: scrubber}
}

func (s *DBSink) Send(ctx context.Context, records []entry.Record) error {
	if s.scrubber != nil {
		records = s.scrubber.ScrubRecords(records)
	}
	return s.repo.SaveBatch(ctx, records)
}

package entry

import (
	"time"

	"github.com/Pharos-AI/utils/provenance"
)

// Record is the serialized form of an Entry handed to a sink. It shares no
// memory with the Entry it was taken from.
type Record struct {
	ID            string                 `json:"id"`
	Timestamp     int64                  `json:"timestamp"`
	Category      Category               `json:"category"`
	Level         Level                  `json:"level,omitempty"`
	Type          string                 `json:"type,omitempty"`
	Area          string                 `json:"area,omitempty"`
	Summary       string                 `json:"summary,omitempty"`
	Details       string                 `json:"details,omitempty"`
	RecordID      string                 `json:"record_id,omitempty"`
	ObjectAPIName string                 `json:"object_api_name,omitempty"`
	TransactionID string                 `json:"transaction_id,omitempty"`
	DurationMs    int64                  `json:"duration_ms,omitempty"`
	CreatedAt     int64                  `json:"created_at,omitempty"`
	Error         *ErrorInfo             `json:"error,omitempty"`
	Provenance    *provenance.Provenance `json:"provenance,omitempty"`
	Stack         string                 `json:"stack,omitempty"`
}

func (e *Entry) Record() Record {
	r := Record{
		ID:            e.id,
		Timestamp:     e.loggedAt.UnixMilli(),
		Category:      e.category,
		Level:         e.level,
		Type:          e.typ,
		Area:          e.area,
		Summary:       e.summary,
		Details:       e.details,
		RecordID:      e.recordID,
		ObjectAPIName: e.objectAPIName,
		TransactionID: e.transactionID,
		DurationMs:    e.duration.Milliseconds(),
		Error:         e.Err(),
		Stack:         e.stack,
	}
	if !e.createdAt.IsZero() {
		r.CreatedAt = e.createdAt.UnixMilli()
	}
	if e.prov != nil {
		p := *e.prov
		r.Provenance = &p
	}
	return r
}

func (r Record) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

func Records(entries []*Entry) []Record {
	out := make([]Record, len(entries))
	for i, e := range entries {
		out[i] = e.Record()
	}
	return out
}

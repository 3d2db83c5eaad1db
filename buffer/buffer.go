// Package buffer collects the log entries of one unit of work and delivers
// them to a Sink in a single batch.
//
// A Buffer belongs to exactly one goroutine. Flush serializes and removes
// the entries present at the moment it is called and hands that batch to a
// background delivery; entries added afterwards wait for the next Flush.
// Batches from one Buffer reach the sink one at a time, in flush order.
// Delivery is at most once: a failed batch is reported on the diagnostic
// logger and dropped.
package buffer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Pharos-AI/utils/correlation"
	"github.com/Pharos-AI/utils/entry"
	"github.com/Pharos-AI/utils/logging"
)

const DefaultTimeout = 10 * time.Second

// Sink is the backend collaborator that receives a flushed batch.
type Sink interface {
	Send(ctx context.Context, records []entry.Record) error
}

type SinkFunc func(ctx context.Context, records []entry.Record) error

func (f SinkFunc) Send(ctx context.Context, records []entry.Record) error {
	return f(ctx, records)
}

type Observer interface {
	ObserveFlush(entries int, elapsed time.Duration, err error)
}

type Buffer struct {
	sink          Sink
	log           logging.Logger
	observers     []Observer
	transactionID string
	entryOpts     []entry.Option
	timeout       time.Duration

	entries []*entry.Entry
	wg      sync.WaitGroup
	// closed when the most recently flushed batch is delivered or dropped
	last chan struct{}
}

type Option func(*Buffer)

func WithLogger(l logging.Logger) Option {
	return func(b *Buffer) {
		if l != nil {
			b.log = l
		}
	}
}

// WithObserver adds o to the observers notified after every delivery.
func WithObserver(o Observer) Option {
	return func(b *Buffer) {
		if o != nil {
			b.observers = append(b.observers, o)
		}
	}
}

// WithTransactionID sets the id every new entry starts with.
func WithTransactionID(id string) Option {
	return func(b *Buffer) { b.transactionID = id }
}

func WithEntryOptions(opts ...entry.Option) Option {
	return func(b *Buffer) { b.entryOpts = append(b.entryOpts, opts...) }
}

func WithTimeout(d time.Duration) Option {
	return func(b *Buffer) {
		if d > 0 {
			b.timeout = d
		}
	}
}

func New(sink Sink, opts ...Option) *Buffer {
	b := &Buffer{
		sink:    sink,
		log:     logging.NopLogger{},
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// FromContext creates a Buffer whose entries carry the transaction id found
// in ctx, if any. Explicit options win over the context value.
func FromContext(ctx context.Context, sink Sink, opts ...Option) *Buffer {
	all := append([]Option{WithTransactionID(correlation.FromContext(ctx))}, opts...)
	return New(sink, all...)
}

func (b *Buffer) TransactionID() string {
	return b.transactionID
}

func (b *Buffer) NewEntry(category entry.Category) *entry.Entry {
	e := entry.New(category, b.entryOpts...).SetTransactionID(b.transactionID)
	b.entries = append(b.entries, e)
	return e
}

func (b *Buffer) AddError() *entry.Entry {
	return b.NewEntry(entry.CategoryError).SetLevel(entry.LevelError)
}

func (b *Buffer) AddWarning() *entry.Entry {
	return b.NewEntry(entry.CategoryWarning).SetLevel(entry.LevelWarning)
}

func (b *Buffer) AddDebug() *entry.Entry {
	return b.NewEntry(entry.CategoryDebug).SetLevel(entry.LevelDebug)
}

func (b *Buffer) AddEvent() *entry.Entry {
	return b.NewEntry(entry.CategoryEvent).SetLevel(entry.LevelInfo)
}

func (b *Buffer) RecordException(err error) *entry.Entry {
	return b.AddError().SetError(err)
}

func (b *Buffer) SaveError(ctx context.Context, typ, area, summary, details string) {
	b.save(ctx, b.AddError(), typ, area, summary, details)
}

func (b *Buffer) SaveWarning(ctx context.Context, typ, area, summary, details string) {
	b.save(ctx, b.AddWarning(), typ, area, summary, details)
}

func (b *Buffer) SaveDebug(ctx context.Context, typ, area, summary, details string) {
	b.save(ctx, b.AddDebug(), typ, area, summary, details)
}

func (b *Buffer) SaveInfo(ctx context.Context, typ, area, summary, details string) {
	b.save(ctx, b.AddEvent(), typ, area, summary, details)
}

func (b *Buffer) save(ctx context.Context, e *entry.Entry, typ, area, summary, details string) {
	e.SetType(typ).SetArea(area).SetSummary(summary).SetDetails(details)
	b.Flush(ctx)
}

func (b *Buffer) Len() int {
	return len(b.entries)
}

func (b *Buffer) Entries() []*entry.Entry {
	out := make([]*entry.Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Flush never blocks on the sink and never reports failure to the caller.
// The delivery context keeps ctx's values but not its cancellation, so a
// batch outlives the request that produced it, bounded by the timeout.
func (b *Buffer) Flush(ctx context.Context) {
	if len(b.entries) == 0 {
		return
	}

	records := entry.Records(b.entries)
	b.entries = nil

	prev := b.last
	done := make(chan struct{})
	b.last = done

	b.wg.Add(1)
	go b.deliver(context.WithoutCancel(ctx), prev, done, records)
}

// Wait blocks until every batch handed off by Flush has been delivered or
// dropped.
func (b *Buffer) Wait() {
	b.wg.Wait()
}

// deliver waits for the previous batch before sending, so the timeout
// covers only this batch's own send.
func (b *Buffer) deliver(ctx context.Context, prev <-chan struct{}, done chan<- struct{}, records []entry.Record) {
	defer b.wg.Done()
	defer close(done)
	if prev != nil {
		<-prev
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	err := b.send(ctx, records)
	elapsed := time.Since(start)
	for _, o := range b.observers {
		o.ObserveFlush(len(records), elapsed, err)
	}

	log := b.log.WithTransactionID(b.transactionID).WithFields(logging.Fields{
		"entries":     len(records),
		"duration_ms": elapsed.Milliseconds(),
	})
	if err != nil {
		log.WithError(err).Error("buffer", "flush", "Delivery failed, batch dropped")
		return
	}
	log.Debug("buffer", "flush", "Batch delivered")
}

func (b *Buffer) send(ctx context.Context, records []entry.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = logging.WrapErrorWithType("send batch", fmt.Errorf("sink panic: %v", r), "SinkPanic")
		}
	}()
	if b.sink == nil {
		return logging.WrapErrorWithType("send batch", fmt.Errorf("no sink configured"), "ConfigError")
	}
	return b.sink.Send(ctx, records)
}

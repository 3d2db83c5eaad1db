// Package entry holds the fluent builder for a single in-flight log entry.
//
// Every setter returns the entry and ignores empty input, so calls chain
// freely without guarding each value:
//
//	e := entry.New(entry.CategoryError).
//		SetArea("Checkout").
//		SetSummary(summary).
//		SetError(err)
//
// Provenance is derived from the stack captured in New and derived again,
// replacing the first result, when an error is attached.
package entry

import (
	"errors"
	"reflect"
	"time"

	"github.com/Pharos-AI/utils/logging"
	"github.com/Pharos-AI/utils/provenance"
	"github.com/oklog/ulid/v2"
)

type ErrorInfo struct {
	Message  string `json:"message,omitempty"`
	Stack    string `json:"stack,omitempty"`
	TypeName string `json:"type_name,omitempty"`
}

func (i ErrorInfo) isZero() bool {
	return i.Message == "" && i.Stack == "" && i.TypeName == ""
}

type Entry struct {
	id            string
	loggedAt      time.Time
	category      Category
	level         Level
	typ           string
	area          string
	summary       string
	details       string
	recordID      string
	objectAPIName string
	transactionID string
	duration      time.Duration
	createdAt     time.Time
	err           *ErrorInfo
	prov          *provenance.Provenance
	stack         string

	rules  provenance.Rules
	source provenance.StackSource
}

type Option func(*Entry)

func WithRules(r provenance.Rules) Option {
	return func(e *Entry) { e.rules = r }
}

// WithStackSource replaces runtime stack capture, e.g. with the stack text
// a browser sent alongside the entry.
func WithStackSource(s provenance.StackSource) Option {
	return func(e *Entry) {
		if s != nil {
			e.source = s
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Entry) {
		if now != nil {
			e.loggedAt = now()
		}
	}
}

func New(category Category, opts ...Option) *Entry {
	e := &Entry{
		id:       ulid.Make().String(),
		loggedAt: time.Now(),
		category: category,
		rules:    provenance.DefaultRules(),
		source:   provenance.CaptureSource,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.derive(e.source())
	return e
}

func (e *Entry) derive(stack string) {
	res := e.rules.Parse(stack)
	if !res.Parsed {
		return
	}
	e.prov = res.Provenance
	e.stack = res.Stack
}

func (e *Entry) SetCategory(c Category) *Entry {
	if c != "" {
		e.category = c
	}
	return e
}

func (e *Entry) SetLevel(l Level) *Entry {
	if l != "" {
		e.level = l
	}
	return e
}

func (e *Entry) SetType(t string) *Entry {
	if t != "" {
		e.typ = t
	}
	return e
}

func (e *Entry) SetArea(area string) *Entry {
	if area != "" {
		e.area = area
	}
	return e
}

func (e *Entry) SetSummary(summary string) *Entry {
	if summary != "" {
		e.summary = summary
	}
	return e
}

func (e *Entry) SetDetails(details string) *Entry {
	if details != "" {
		e.details = details
	}
	return e
}

func (e *Entry) SetRecordID(id string) *Entry {
	if id != "" {
		e.recordID = id
	}
	return e
}

func (e *Entry) SetObjectAPIName(name string) *Entry {
	if name != "" {
		e.objectAPIName = name
	}
	return e
}

func (e *Entry) SetTransactionID(id string) *Entry {
	if id != "" {
		e.transactionID = id
	}
	return e
}

func (e *Entry) SetDuration(d time.Duration) *Entry {
	if d != 0 {
		e.duration = d
	}
	return e
}

func (e *Entry) SetCreatedAt(t time.Time) *Entry {
	if !t.IsZero() {
		e.createdAt = t
	}
	return e
}

type stackTracer interface {
	StackTrace() string
}

// SetError attaches err. The stack comes from the first error in the chain
// that carries its own stack text; otherwise it is captured here.
func (e *Entry) SetError(err error) *Entry {
	if isNil(err) {
		return e
	}

	info := ErrorInfo{
		Message:  err.Error(),
		TypeName: logging.ErrorType(err),
	}
	var st stackTracer
	if errors.As(err, &st) {
		info.Stack = st.StackTrace()
	} else {
		info.Stack = e.source()
	}
	return e.SetErrorInfo(info)
}

// isNil also catches a nil pointer stored in a non-nil error interface.
func isNil(err error) bool {
	if err == nil {
		return true
	}
	v := reflect.ValueOf(err)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// SetErrorInfo attaches an error captured elsewhere. A non-empty stack
// replaces the entry's provenance and normalized stack.
func (e *Entry) SetErrorInfo(info ErrorInfo) *Entry {
	if info.isZero() {
		return e
	}
	e.err = &info
	if e.typ == "" {
		e.typ = info.TypeName
	}
	e.derive(info.Stack)
	return e
}

func (e *Entry) ID() string                         { return e.id }
func (e *Entry) Category() Category                 { return e.category }
func (e *Entry) Level() Level                       { return e.level }
func (e *Entry) TransactionID() string              { return e.transactionID }
func (e *Entry) Provenance() *provenance.Provenance { return e.prov }
func (e *Entry) Stack() string                      { return e.stack }

func (e *Entry) Err() *ErrorInfo {
	if e.err == nil {
		return nil
	}
	info := *e.err
	return &info
}

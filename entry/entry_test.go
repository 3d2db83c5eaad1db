package entry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Pharos-AI/utils/provenance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRules = provenance.Rules{
	ModuleMarker:    "/modules/",
	ComponentMarker: "/components/",
	Internal:        []string{"/modules/c/logger/"},
}

func stackOf(lines ...string) provenance.StackSource {
	text := strings.Join(lines, "\n")
	return func() string { return text }
}

func newTestEntry(c Category, lines ...string) *Entry {
	return New(c, WithRules(testRules), WithStackSource(stackOf(lines...)))
}

func TestNew_DerivesProvenanceAtConstruction(t *testing.T) {
	e := newTestEntry(CategoryWarning,
		"at https://x/modules/c/logger/logger.js:5:1 addWarning (...)",
		"at https://x/modules/c/cart/cart.js:12:3 checkout (...)",
	)

	require.NotNil(t, e.Provenance())
	assert.Equal(t, provenance.Provenance{Kind: provenance.FrontendModule, Name: "cart", Function: "checkout"}, *e.Provenance())
	assert.Equal(t, "at https://x/modules/c/cart/cart.js:12:3 checkout (...)", e.Stack())
	assert.NotEmpty(t, e.ID())
	assert.Equal(t, CategoryWarning, e.Category())
}

func TestNew_EmptyStackLeavesProvenanceUnset(t *testing.T) {
	e := New(CategoryDebug, WithRules(testRules), WithStackSource(func() string { return "" }))
	assert.Nil(t, e.Provenance())
	assert.Empty(t, e.Stack())
}

func TestNew_RuntimeCaptureDropsOwnFrames(t *testing.T) {
	e := New(CategoryEvent)
	assert.NotEmpty(t, e.Stack())
	assert.NotContains(t, e.Stack(), "/entry/entry.go")
}

func TestSetters_Populate(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := newTestEntry(CategoryEvent).
		SetCategory(CategoryError).
		SetLevel(LevelFine).
		SetType(TypeFrontend).
		SetArea("Orders").
		SetSummary("summary").
		SetDetails("details").
		SetRecordID("001xx").
		SetObjectAPIName("Account").
		SetTransactionID("tx-1").
		SetDuration(1500 * time.Millisecond).
		SetCreatedAt(created).
		Record()

	assert.Equal(t, CategoryError, r.Category)
	assert.Equal(t, LevelFine, r.Level)
	assert.Equal(t, TypeFrontend, r.Type)
	assert.Equal(t, "Orders", r.Area)
	assert.Equal(t, "summary", r.Summary)
	assert.Equal(t, "details", r.Details)
	assert.Equal(t, "001xx", r.RecordID)
	assert.Equal(t, "Account", r.ObjectAPIName)
	assert.Equal(t, "tx-1", r.TransactionID)
	assert.Equal(t, int64(1500), r.DurationMs)
	assert.Equal(t, created.UnixMilli(), r.CreatedAt)
}

func TestSetters_EmptyValuesAreNoOps(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEntry(CategoryWarning).
		SetLevel(LevelWarning).
		SetType("T").
		SetArea("A").
		SetSummary("S").
		SetDetails("D").
		SetRecordID("R").
		SetObjectAPIName("O").
		SetTransactionID("X").
		SetDuration(time.Second).
		SetCreatedAt(created)
	before := e.Record()

	e.SetCategory("").
		SetLevel("").
		SetType("").
		SetArea("").
		SetSummary("").
		SetDetails("").
		SetRecordID("").
		SetObjectAPIName("").
		SetTransactionID("").
		SetDuration(0).
		SetCreatedAt(time.Time{}).
		SetError(nil).
		SetErrorInfo(ErrorInfo{})

	assert.Equal(t, before, e.Record())
}

func TestSetError_ClientErrorReplacesProvenance(t *testing.T) {
	e := newTestEntry(CategoryError, "at https://x/modules/first/first.js:1:1 init (...)")
	require.Equal(t, "first", e.Provenance().Name)

	e.SetError(&ClientError{
		Message: "boom",
		Stack:   "TypeError: boom\nat https://x/components/c/grid.js:9:9 render (...)",
		Name:    "TypeError",
	})

	info := e.Err()
	require.NotNil(t, info)
	assert.Equal(t, "boom", info.Message)
	assert.Equal(t, "TypeError", info.TypeName)
	assert.Equal(t, provenance.Provenance{Kind: provenance.FrontendComponent, Name: "grid", Function: "render"}, *e.Provenance())
	assert.Equal(t, "TypeError: boom\nat https://x/components/c/grid.js:9:9 render (...)", e.Stack())
	assert.Equal(t, "TypeError", e.Record().Type)
}

func TestSetError_StackWithoutFrameClearsProvenance(t *testing.T) {
	e := newTestEntry(CategoryError, "at https://x/modules/first/first.js:1:1 init (...)")

	e.SetError(&ClientError{Message: "x", Stack: "at anonymous", Name: "Error"})

	assert.Nil(t, e.Provenance())
	assert.Equal(t, "at anonymous", e.Stack())
}

func TestSetError_EmptyStackKeepsConstructionProvenance(t *testing.T) {
	e := newTestEntry(CategoryError, "at https://x/modules/first/first.js:1:1 init (...)")

	e.SetError(&ClientError{Message: "x", Name: "Error"})

	require.NotNil(t, e.Provenance())
	assert.Equal(t, "first", e.Provenance().Name)
	assert.Equal(t, "x", e.Err().Message)
}

func TestSetError_TypedNilIsNoOp(t *testing.T) {
	e := newTestEntry(CategoryError, "at https://x/modules/first/first.js:1:1 init (...)")
	before := e.Record()

	var ce *ClientError
	var err error = ce
	assert.NotPanics(t, func() { e.SetError(err) })

	assert.Nil(t, e.Err())
	assert.Equal(t, before, e.Record())
}

func TestClientError_NilReceiver(t *testing.T) {
	var ce *ClientError
	assert.Empty(t, ce.Error())
	assert.Empty(t, ce.Type())
	assert.Empty(t, ce.StackTrace())
}

func TestSetError_KeepsExplicitType(t *testing.T) {
	e := newTestEntry(CategoryError).SetType(TypeBackend)
	e.SetError(&ClientError{Message: "x", Name: "RangeError"})

	assert.Equal(t, TypeBackend, e.Record().Type)
	assert.Equal(t, "RangeError", e.Err().TypeName)
}

func TestSetError_GoErrorCapturesStack(t *testing.T) {
	e := New(CategoryError)
	e.SetError(fmt.Errorf("load order: %w", errors.New("not found")))

	info := e.Err()
	require.NotNil(t, info)
	assert.Equal(t, "load order: not found", info.Message)
	assert.Equal(t, "wrapError", info.TypeName)
	assert.NotEmpty(t, info.Stack)
	assert.Contains(t, info.Stack, "TestSetError_GoErrorCapturesStack")
}

func TestSetError_WrappedClientError(t *testing.T) {
	e := newTestEntry(CategoryError)
	e.SetError(fmt.Errorf("forwarded: %w", &ClientError{
		Message: "bad",
		Stack:   "at https://x/modules/m/m.js:1:1 go (...)",
		Name:    "SyntaxError",
	}))

	assert.Equal(t, "forwarded: bad", e.Err().Message)
	assert.Equal(t, "SyntaxError", e.Err().TypeName)
	assert.Equal(t, "m", e.Provenance().Name)
}

func TestRecord_IsDetached(t *testing.T) {
	e := newTestEntry(CategoryError, "at https://x/modules/a/a.js:1:1 f (...)").
		SetSummary("before").
		SetErrorInfo(ErrorInfo{Message: "m", Stack: "at https://x/modules/b/b.js:1:1 g (...)"})

	r := e.Record()
	e.SetSummary("after").SetErrorInfo(ErrorInfo{Message: "n", Stack: "at https://x/modules/c/c.js:1:1 h (...)"})

	assert.Equal(t, "before", r.Summary)
	assert.Equal(t, "m", r.Error.Message)
	assert.Equal(t, "b", r.Provenance.Name)
}

func TestRecord_JSONShape(t *testing.T) {
	now := time.Date(2026, 5, 5, 0, 0, 0, 0, time.UTC)
	e := New(CategoryError,
		WithRules(testRules),
		WithStackSource(stackOf("at https://x/modules/a/a.js:1:1 f (...)")),
		WithClock(func() time.Time { return now }),
	).SetSummary("s")

	data, err := json.Marshal(e.Record())
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "Error", m["category"])
	assert.Equal(t, float64(now.UnixMilli()), m["timestamp"])
	assert.Equal(t, "s", m["summary"])
	assert.NotContains(t, m, "details")
	assert.NotContains(t, m, "error")
	prov := m["provenance"].(map[string]interface{})
	assert.Equal(t, "FrontendModule", prov["kind"])
	assert.Equal(t, "a", prov["name"])
}

func TestParseCategoryAndLevel(t *testing.T) {
	c, ok := ParseCategory("Warning")
	assert.True(t, ok)
	assert.Equal(t, CategoryWarning, c)

	_, ok = ParseCategory("warning")
	assert.False(t, ok)

	l, ok := ParseLevel("FINEST")
	assert.True(t, ok)
	assert.Equal(t, LevelFinest, l)

	_, ok = ParseLevel("TRACE")
	assert.False(t, ok)
}

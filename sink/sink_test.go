package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Pharos-AI/utils/buffer"
	"github.com/Pharos-AI/utils/correlation"
	"github.com/Pharos-AI/utils/entry"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ buffer.Sink = (*HTTP)(nil)
	_ buffer.Sink = (*WebSocket)(nil)
	_ buffer.Sink = (*Writer)(nil)
	_ buffer.Sink = Multi(nil)
)

func testBatch() []entry.Record {
	return []entry.Record{
		{ID: "01", Timestamp: 1, Category: entry.CategoryError, Summary: "first"},
		{ID: "02", Timestamp: 2, Category: entry.CategoryEvent, Summary: "second"},
	}
}

type capturedRequest struct {
	header http.Header
	body   []byte
}

func newCollector(t *testing.T, status int) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var got []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, capturedRequest{header: r.Header.Clone(), body: body})
		mu.Unlock()
		w.WriteHeader(status)
		w.Write([]byte(`{"accepted":2}`))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return got
	}
}

func TestHTTP_PostsJSONArray(t *testing.T) {
	srv, got := newCollector(t, http.StatusOK)
	s, err := NewHTTP(HTTPConfig{URL: srv.URL + "/api/entries", APIKey: "k1"})
	require.NoError(t, err)

	ctx := correlation.WithTransactionID(context.Background(), "tx-9")
	require.NoError(t, s.Send(ctx, testBatch()))

	require.Len(t, got(), 1)
	req := got()[0]
	assert.Equal(t, "application/json", req.header.Get("Content-Type"))
	assert.Equal(t, "Bearer k1", req.header.Get("Authorization"))
	assert.Equal(t, "tx-9", req.header.Get(correlation.HeaderTransactionID))

	var records []entry.Record
	require.NoError(t, json.Unmarshal(req.body, &records))
	assert.Equal(t, testBatch(), records)
}

func TestHTTP_Gzip(t *testing.T) {
	srv, got := newCollector(t, http.StatusOK)
	s, err := NewHTTP(HTTPConfig{URL: srv.URL, Gzip: true})
	require.NoError(t, err)

	require.NoError(t, s.Send(context.Background(), testBatch()))

	require.Len(t, got(), 1)
	req := got()[0]
	assert.Equal(t, "gzip", req.header.Get("Content-Encoding"))
	assert.Empty(t, req.header.Get("Authorization"))

	zr, err := gzip.NewReader(bytes.NewReader(req.body))
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)

	var records []entry.Record
	require.NoError(t, json.Unmarshal(plain, &records))
	assert.Len(t, records, 2)
}

func TestHTTP_Non2xxIsError(t *testing.T) {
	srv, _ := newCollector(t, http.StatusUnauthorized)
	s, err := NewHTTP(HTTPConfig{URL: srv.URL})
	require.NoError(t, err)

	err = s.Send(context.Background(), testBatch())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestHTTP_ExpiredContext(t *testing.T) {
	srv, got := newCollector(t, http.StatusOK)
	s, err := NewHTTP(HTTPConfig{URL: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Send(ctx, testBatch()), context.Canceled)
	assert.Empty(t, got())
}

func TestNewHTTP_Validation(t *testing.T) {
	_, err := NewHTTP(HTTPConfig{})
	assert.Error(t, err)

	_, err = NewHTTP(HTTPConfig{URL: "ftp://x"})
	assert.Error(t, err)
}

func newWSCollector(t *testing.T, reply func(n int) Ack) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	dials := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		dials.Add(1)

		for {
			var records []entry.Record
			if err := conn.ReadJSON(&records); err != nil {
				return
			}
			if err := conn.WriteJSON(reply(len(records))); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, dials
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocket_SendsAndReusesConnection(t *testing.T) {
	srv, dials := newWSCollector(t, func(n int) Ack { return Ack{Accepted: n} })
	s, err := NewWebSocket(WebSocketConfig{URL: wsURL(srv), Timeout: 2 * time.Second})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Send(context.Background(), testBatch()))
	require.NoError(t, s.Send(context.Background(), testBatch()[:1]))
	assert.Equal(t, int32(1), dials.Load())
}

func TestWebSocket_RejectedBatch(t *testing.T) {
	srv, _ := newWSCollector(t, func(int) Ack { return Ack{Error: "invalid batch"} })
	s, err := NewWebSocket(WebSocketConfig{URL: wsURL(srv)})
	require.NoError(t, err)
	defer s.Close()

	err = s.Send(context.Background(), testBatch())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid batch")
}

func TestWebSocket_PartialAck(t *testing.T) {
	srv, _ := newWSCollector(t, func(n int) Ack { return Ack{Accepted: n - 1} })
	s, err := NewWebSocket(WebSocketConfig{URL: wsURL(srv)})
	require.NoError(t, err)
	defer s.Close()

	err = s.Send(context.Background(), testBatch())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")
}

func TestWebSocket_DialFailure(t *testing.T) {
	s, err := NewWebSocket(WebSocketConfig{URL: "ws://127.0.0.1:1/ws", Timeout: time.Second})
	require.NoError(t, err)

	assert.Error(t, s.Send(context.Background(), testBatch()))
	assert.NoError(t, s.Close())
}

type upperRedactor struct{}

func (upperRedactor) ScrubRecord(r entry.Record) entry.Record {
	r.Summary = strings.ToUpper(r.Summary)
	return r
}

func TestWriter_JSONLines(t *testing.T) {
	var out bytes.Buffer
	s := NewWriter(&out, upperRedactor{})

	require.NoError(t, s.Send(context.Background(), testBatch()))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	var first entry.Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "FIRST", first.Summary)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriter_WriteError(t *testing.T) {
	s := NewWriter(failingWriter{}, nil)
	err := s.Send(context.Background(), testBatch())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestMulti_StopsAtFirstError(t *testing.T) {
	var calls []string
	record := func(name string, err error) buffer.Sink {
		return buffer.SinkFunc(func(context.Context, []entry.Record) error {
			calls = append(calls, name)
			return err
		})
	}

	m := Multi{record("a", nil), record("b", errors.New("down")), record("c", nil)}
	err := m.Send(context.Background(), testBatch())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink 1")
	assert.Equal(t, []string{"a", "b"}, calls)
}

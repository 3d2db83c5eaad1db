package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Pharos-AI/utils/correlation"
	"github.com/Pharos-AI/utils/entry"
	"github.com/klauspost/compress/gzip"
	"github.com/valyala/fasthttp"
)

type HTTPConfig struct {
	URL     string
	APIKey  string
	Gzip    bool
	Timeout time.Duration
}

// HTTP posts each batch as a JSON array.
type HTTP struct {
	cfg    HTTPConfig
	client *fasthttp.Client
}

func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("http sink: url is required")
	}
	if !strings.HasPrefix(cfg.URL, "http://") && !strings.HasPrefix(cfg.URL, "https://") {
		return nil, fmt.Errorf("http sink: unsupported url %q", cfg.URL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &HTTP{
		cfg: cfg,
		client: &fasthttp.Client{
			MaxConnsPerHost:     10,
			MaxIdleConnDuration: 10 * time.Second,
			ReadTimeout:         cfg.Timeout,
			WriteTimeout:        cfg.Timeout,
		},
	}, nil
}

func (h *HTTP) Send(ctx context.Context, records []entry.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	if h.cfg.Gzip {
		if body, err = gzipBytes(body); err != nil {
			return fmt.Errorf("compress batch: %w", err)
		}
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(h.cfg.URL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if h.cfg.Gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if h.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.cfg.APIKey)
	}
	if tx := correlation.FromContext(ctx); tx != "" {
		req.Header.Set(correlation.HeaderTransactionID, tx)
	}
	req.SetBody(body)

	timeout := sendTimeout(ctx, h.cfg.Timeout)
	if timeout <= 0 {
		return context.DeadlineExceeded
	}
	if err := h.client.DoTimeout(req, resp, timeout); err != nil {
		return fmt.Errorf("post batch: %w", err)
	}

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		return fmt.Errorf("post batch: server returned status %d: %s", status, bytes.TrimSpace(resp.Body()))
	}
	return nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

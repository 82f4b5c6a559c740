package sink

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"

	"eventbatcher/pkg/logger"
	"eventbatcher/pkg/models"
)

// BulkOptions configures a Bulk sink.
type BulkOptions struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
	// Dial overrides the transport; tests use an in-memory listener.
	Dial fasthttp.DialFunc
}

// Bulk posts each batch as one NDJSON request to a document index's _bulk
// endpoint.
type Bulk struct {
	client   *fasthttp.Client
	endpoint string
	auth     string
	timeout  time.Duration
}

// NewBulk builds a Bulk sink.
func NewBulk(opts BulkOptions) (*Bulk, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("bulk sink: url required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	b := &Bulk{
		client: &fasthttp.Client{
			Name:         "eventbatcher",
			ReadTimeout:  opts.Timeout,
			WriteTimeout: opts.Timeout,
			Dial:         opts.Dial,
		},
		endpoint: strings.TrimRight(opts.URL, "/") + "/_bulk",
		timeout:  opts.Timeout,
	}
	if opts.Username != "" {
		b.auth = "Basic " + base64.StdEncoding.EncodeToString([]byte(opts.Username+":"+opts.Password))
	}
	return b, nil
}

type bulkAction struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

type bulkItem struct {
	Index  string `json:"_index"`
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Result string `json:"result"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}

type bulkResponse struct {
	Errors bool                  `json:"errors"`
	Items  []map[string]bulkItem `json:"items"`
}

// encodeBulk appends the NDJSON body for batch into buf.
func encodeBulk(buf *bytebufferpool.ByteBuffer, batch []models.Record) error {
	enc := json.NewEncoder(buf)
	for _, rec := range batch {
		if err := enc.Encode(map[string]bulkAction{string(rec.Operation): {Index: rec.Destination, ID: rec.ID}}); err != nil {
			return err
		}
		switch rec.Operation {
		case models.OpCreate:
			if err := enc.Encode(rec.Content); err != nil {
				return err
			}
		case models.OpUpdate:
			if err := enc.Encode(map[string]any{"doc": rec.Content}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Bulk) Write(ctx context.Context, batch []models.Record) ([]models.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := encodeBulk(buf, batch); err != nil {
		return nil, fmt.Errorf("encode bulk body: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(b.endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/x-ndjson")
	if b.auth != "" {
		req.Header.Set("Authorization", b.auth)
	}
	req.SetBody(buf.B)

	deadline := time.Now().Add(b.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := b.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if code := resp.StatusCode(); code < 200 || code > 299 {
		return nil, fmt.Errorf("%w: bulk request returned %d", ErrUnavailable, code)
	}

	var br bulkResponse
	if err := json.Unmarshal(resp.Body(), &br); err != nil {
		return nil, fmt.Errorf("%w: decode bulk response: %v", ErrUnavailable, err)
	}
	out := make([]models.Result, 0, len(br.Items))
	for _, item := range br.Items {
		for _, it := range item {
			res := models.Result{ID: it.ID, Status: it.Status, Result: it.Result}
			if it.Error != nil {
				res.Reason = it.Error.Reason
			}
			out = append(out, res)
		}
	}
	if br.Errors {
		logger.Debug("bulk_item_errors", "records", len(batch))
	}
	return out, nil
}

func (b *Bulk) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

// Package sink holds the downstream writers a Batcher flushes into.
package sink

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"eventbatcher/pkg/models"
	"eventbatcher/pkg/store"
)

// Sink writes one batch and reports one outcome per record, in batch order.
// A non-nil error means the whole batch failed.
type Sink interface {
	Write(ctx context.Context, batch []models.Record) ([]models.Result, error)
	Close() error
}

// ErrUnavailable wraps transport-level failures.
var ErrUnavailable = errors.New("sink unavailable")

// Pebble writes batches into a local document store.
type Pebble struct {
	Store *store.Store
}

// OpenPebble opens a document store at dir.
func OpenPebble(dir string) (*Pebble, error) {
	st, err := store.Open(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &Pebble{Store: st}, nil
}

func (p *Pebble) Write(ctx context.Context, batch []models.Record) ([]models.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := p.Store.Apply(batch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return res, nil
}

func (p *Pebble) Close() error { return p.Store.Close() }

// Discard accepts every record without storing it.
type Discard struct{}

func (Discard) Write(ctx context.Context, batch []models.Record) ([]models.Result, error) {
	out := make([]models.Result, len(batch))
	for i, rec := range batch {
		switch rec.Operation {
		case models.OpCreate:
			out[i] = models.Result{ID: rec.ID, Status: http.StatusCreated, Result: "created"}
		case models.OpDelete:
			out[i] = models.Result{ID: rec.ID, Status: http.StatusOK, Result: "deleted"}
		default:
			out[i] = models.Result{ID: rec.ID, Status: http.StatusOK, Result: "updated"}
		}
	}
	return out, nil
}

func (Discard) Close() error { return nil }

// Func adapts a function into a Sink.
type Func func(ctx context.Context, batch []models.Record) ([]models.Result, error)

func (f Func) Write(ctx context.Context, batch []models.Record) ([]models.Result, error) {
	return f(ctx, batch)
}

func (Func) Close() error { return nil }

package api

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"eventbatcher/pkg/batcher"
	"eventbatcher/pkg/logger"
	"eventbatcher/pkg/models"
	"eventbatcher/pkg/queue"
)

const maxBodyBytes = 32 << 20

// EventsResponse is the body returned for a stateful events request, one
// entry per header in request order.
type EventsResponse struct {
	Results []models.TaskResult `json:"results"`
}

type eventsHandler struct {
	client  *batcher.Client
	timeout time.Duration
}

func (h *eventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || (mt != "application/json" && mt != "application/x-ndjson") {
			JSONError(w, http.StatusUnsupportedMediaType, "expected application/json or application/x-ndjson body")
			return
		}
	}

	events, err := ParseStatefulEvents(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		logger.Warn("stateful_events_invalid", "remote", r.RemoteAddr, "error", err)
		JSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	results := make([]models.TaskResult, len(events.Items))
	ids := make([]string, len(events.Items))
	for i, item := range events.Items {
		if item.Header.ID == "" {
			item.Header.ID = uuid.NewString()
		}
		err := h.client.SubmitOperation(events.Meta, item.Header, item.Event)
		switch {
		case err == nil:
			ids[i] = item.Header.ID
		case errors.Is(err, queue.ErrQueueClosed):
			h.abandon(ids)
			JSONError(w, http.StatusServiceUnavailable, "shutting down")
			return
		case errors.Is(err, queue.ErrDuplicateID):
			results[i] = models.TaskResult{Result: err.Error(), Status: http.StatusConflict}
		case errors.Is(err, queue.ErrInvalidRecord):
			results[i] = models.TaskResult{Result: err.Error(), Status: http.StatusBadRequest}
		default:
			logger.Error("submit_failed", "id", item.Header.ID, "error", err)
			results[i] = models.TaskResult{Result: err.Error(), Status: http.StatusInternalServerError}
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var wg sync.WaitGroup
	for i, id := range ids {
		if id == "" {
			continue
		}
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i] = h.await(ctx, id)
		}(i, id)
	}
	wg.Wait()

	logger.Debug("stateful_events_done", "agent", events.Meta.Agent.ID, "events", len(results))
	_ = JSONWrite(w, http.StatusOK, EventsResponse{Results: results})
}

func (h *eventsHandler) await(ctx context.Context, id string) models.TaskResult {
	res, err := h.client.AwaitResult(ctx, id)
	switch {
	case err == nil:
		return res.ToTaskResult()
	case ctx.Err() != nil:
		_ = h.client.Abandon(id)
		logger.Warn("result_wait_timeout", "id", id)
		return models.TaskResult{Result: "timed out waiting for result", Status: http.StatusGatewayTimeout}
	default:
		logger.Error("result_wait_failed", "id", id, "error", err)
		return models.TaskResult{Result: err.Error(), Status: http.StatusInternalServerError}
	}
}

func (h *eventsHandler) abandon(ids []string) {
	for _, id := range ids {
		if id != "" {
			_ = h.client.Abandon(id)
		}
	}
}

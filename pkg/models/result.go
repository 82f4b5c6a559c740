package models

import (
	"net/http"
	"time"
)

// Result is the terminal per-record outcome recorded after a flush.
type Result struct {
	ID         string    `json:"_id,omitempty"`
	Status     int       `json:"status"`
	Result     string    `json:"result,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// OK reports whether the downstream accepted the record.
func (r Result) OK() bool {
	return r.Status >= http.StatusOK && r.Status <= http.StatusPartialContent
}

// Failure builds a failed outcome for id.
func Failure(id string, status int, reason string) Result {
	return Result{ID: id, Status: status, Reason: reason}
}

// TaskResult is the per-event response returned to agents.
type TaskResult struct {
	ID     string `json:"id"`
	Result string `json:"result"`
	Status int    `json:"status"`
}

// ToTaskResult shapes a Result for the agent response: successful results
// carry the document id, failures carry the reason in place of the result.
func (r Result) ToTaskResult() TaskResult {
	if r.OK() {
		return TaskResult{ID: r.ID, Result: r.Result, Status: r.Status}
	}
	return TaskResult{ID: "", Result: r.Reason, Status: r.Status}
}

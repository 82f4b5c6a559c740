package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"eventbatcher/pkg/models"
)

// maxLineBytes bounds a single NDJSON line.
const maxLineBytes = 4 << 20

// ErrInvalidBody is returned for request bodies that do not follow the
// stateful events layout.
var ErrInvalidBody = errors.New("invalid stateful events body")

// Item is one header with the event that followed it. Deletes carry no event.
type Item struct {
	Header models.Header
	Event  *models.StatefulEvent
}

// StatefulEvents is a parsed request body.
type StatefulEvents struct {
	Meta  models.AgentMetadata
	Items []Item
}

// ParseStatefulEvents reads an NDJSON body: the agent metadata line, then
// for each event a header line followed by the event data line. A delete
// header is not followed by data. Blank lines are ignored.
func ParseStatefulEvents(r io.Reader) (StatefulEvents, error) {
	var out StatefulEvents
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)

	lines := 0
	var pending *models.Header
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		lines++
		switch {
		case lines == 1:
			if err := json.Unmarshal(line, &out.Meta); err != nil {
				return out, fmt.Errorf("%w: agent metadata: %v", ErrInvalidBody, err)
			}
		case pending == nil:
			var h models.Header
			if err := json.Unmarshal(line, &h); err != nil {
				return out, fmt.Errorf("%w: header on line %d: %v", ErrInvalidBody, lines, err)
			}
			if h.Module == "" {
				return out, fmt.Errorf("%w: header on line %d has no module", ErrInvalidBody, lines)
			}
			if h.Operation == models.OpDelete {
				out.Items = append(out.Items, Item{Header: h})
				continue
			}
			pending = &h
		default:
			var data map[string]any
			if err := json.Unmarshal(line, &data); err != nil {
				return out, fmt.Errorf("%w: event on line %d: %v", ErrInvalidBody, lines, err)
			}
			out.Items = append(out.Items, Item{Header: *pending, Event: &models.StatefulEvent{Data: data}})
			pending = nil
		}
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	if lines < 2 {
		return out, fmt.Errorf("%w: expected agent metadata and at least one header", ErrInvalidBody)
	}
	if pending != nil {
		return out, fmt.Errorf("%w: header %q has no event", ErrInvalidBody, pending.ID)
	}
	return out, nil
}

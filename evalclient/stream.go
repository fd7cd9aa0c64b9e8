package evalclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const (
	streamUpdate = "update"
	streamDelete = "delete"
	streamError  = "error"
)

// streamEvent is one server-sent flag notification.
type streamEvent struct {
	Type    string
	Key     string
	Message string
	EventID int64
}

// stream connects to the SSE stream and emits events on the returned channel.
// The channel is closed when ctx is cancelled or the connection drops.
func (c *Client) stream(ctx context.Context, lastEventID int64) (<-chan streamEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/stream", nil)
	if err != nil {
		return nil, fmt.Errorf("evalclient: create stream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "text/event-stream")
	if lastEventID > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(lastEventID, 10))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("evalclient: stream connect: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	ch := make(chan streamEvent, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		br := bufio.NewReaderSize(resp.Body, 1<<20)
		parseSSE(ctx, br, ch)
	}()
	return ch, nil
}

// parseSSE reads id, event and data fields from r and sends an event on
// every blank line that follows data. Multi-line data is joined with "\n".
func parseSSE(ctx context.Context, r *bufio.Reader, ch chan<- streamEvent) {
	var (
		eventType string
		dataLines []string
		eventID   int64
	)

	for {
		if ctx.Err() != nil {
			return
		}
		line, err := r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if len(dataLines) > 0 {
				ev, ok := decodeStreamEvent(eventType, eventID, strings.Join(dataLines, "\n"))
				if ok {
					select {
					case ch <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
			eventType = ""
			dataLines = nil
		case strings.HasPrefix(line, "id:"):
			if id, parseErr := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "id:")), 10, 64); parseErr == nil {
				eventID = id
			}
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}

		if err != nil {
			return
		}
	}
}

func decodeStreamEvent(eventType string, eventID int64, data string) (streamEvent, bool) {
	ev := streamEvent{Type: eventType, EventID: eventID}
	switch eventType {
	case streamUpdate, streamDelete:
		var f wireFlag
		if err := json.Unmarshal([]byte(data), &f); err != nil || f.Key == "" {
			return ev, false
		}
		ev.Key = f.Key
	case streamError:
		var payload struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &payload); err == nil {
			ev.Message = payload.Error
		} else {
			ev.Message = data
		}
	default:
		return ev, false
	}
	return ev, true
}

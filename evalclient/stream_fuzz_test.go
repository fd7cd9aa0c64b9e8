// Fuzz and white-box tests for the SSE parser and listener registry.
package evalclient

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/matt-riley/flagbind"
)

// runParseSSE runs the SSE parser on b and collects all emitted events.
func runParseSSE(b []byte) []streamEvent {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := make(chan streamEvent, 256)
	go func() {
		defer close(ch)
		br := bufio.NewReaderSize(bytes.NewReader(b), 1<<20)
		parseSSE(ctx, br, ch)
	}()
	var evs []streamEvent
	for e := range ch {
		evs = append(evs, e)
	}
	return evs
}

func TestParseSSE(t *testing.T) {
	input := "id: 1\nevent: update\ndata: {\"key\":\"flag-a\",\"enabled\":true}\n\n" +
		": comment\n\n" +
		"id:2\r\nevent:delete\r\ndata:{\"key\":\"flag-b\"}\r\n\r\n" +
		"event: update\ndata: not-json\n\n" +
		"event: unknown\ndata: {\"key\":\"flag-c\"}\n\n" +
		"event: error\ndata: {\"error\":\"internal server error\"}\n\n"

	evs := runParseSSE([]byte(input))
	if len(evs) != 3 {
		t.Fatalf("want 3 events, got %d: %+v", len(evs), evs)
	}
	if evs[0].Type != streamUpdate || evs[0].Key != "flag-a" || evs[0].EventID != 1 {
		t.Errorf("event 0: %+v", evs[0])
	}
	if evs[1].Type != streamDelete || evs[1].Key != "flag-b" || evs[1].EventID != 2 {
		t.Errorf("event 1: %+v", evs[1])
	}
	if evs[2].Type != streamError || evs[2].Message != "internal server error" {
		t.Errorf("event 2: %+v", evs[2])
	}
}

func TestParseSSEMultiLineData(t *testing.T) {
	evs := runParseSSE([]byte("event: update\ndata: {\"key\":\ndata: \"flag-a\"}\n\n"))
	if len(evs) != 1 || evs[0].Key != "flag-a" {
		t.Fatalf("got %+v", evs)
	}
}

// FuzzParseSSE ensures the SSE parser never panics on arbitrary input and
// produces no more events than blank lines in the input.
func FuzzParseSSE(f *testing.F) {
	f.Add([]byte("id:1\nevent:update\ndata:{\"key\":\"x\",\"enabled\":true}\n\n"))
	f.Add([]byte("id:2\nevent:delete\ndata:{\"key\":\"x\"}\n\n"))
	f.Add([]byte("event:update\ndata:first\ndata:second\n\n"))
	f.Add([]byte("event:error\ndata:oops\n\n"))
	f.Add([]byte("\n\n"))
	f.Add([]byte(""))
	f.Add([]byte("id:9999999999999999999999\nevent:update\ndata:{}\n\n"))
	f.Add([]byte(strings.Repeat("data:x\n", 1000) + "\n"))

	f.Fuzz(func(t *testing.T, data []byte) {
		evs := runParseSSE(data)
		blankLines := bytes.Count(data, []byte("\n\n"))
		if len(evs) > blankLines+1 {
			t.Errorf("got %d events from input with %d blank lines", len(evs), blankLines)
		}
	})
}

func TestEmitterOrderAndOff(t *testing.T) {
	var e emitter
	var calls []string

	first := e.on(flagbind.EventChange, func(flagbind.Event) { calls = append(calls, "first") })
	e.on(flagbind.EventChange, func(flagbind.Event) { calls = append(calls, "second") })
	e.on(flagbind.EventReady, func(flagbind.Event) { calls = append(calls, "ready") })

	e.emit(flagbind.Event{Name: flagbind.EventChange})
	if strings.Join(calls, ",") != "first,second" {
		t.Fatalf("calls = %v", calls)
	}

	e.off(flagbind.EventChange, first)
	e.off(flagbind.EventChange, 0)
	e.off(flagbind.EventFailed, first)
	calls = nil
	e.emit(flagbind.Event{Name: flagbind.EventChange})
	if strings.Join(calls, ",") != "second" {
		t.Fatalf("calls after off = %v", calls)
	}
	if got := e.count(flagbind.EventReady); got != 1 {
		t.Fatalf("ready listeners = %d, want 1", got)
	}
}

func TestDefaultBool(t *testing.T) {
	if !defaultBool(true) || defaultBool("true") || defaultBool(nil) {
		t.Fatal("defaultBool should only accept bool true")
	}
}

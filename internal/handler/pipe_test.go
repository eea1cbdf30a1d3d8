package handler

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/aistudio-bridge/bridge/internal/bridgeerr"
	"github.com/aistudio-bridge/bridge/internal/config"
	"github.com/aistudio-bridge/bridge/internal/protocol"
	"github.com/aistudio-bridge/bridge/internal/queue"
)

func TestSSEDataLinesSplitsAcrossFragments(t *testing.T) {
	var s sseDataLines

	if out := s.feed([]byte("data: {\"a\":")); len(out) != 0 {
		t.Fatalf("expected no complete lines yet, got %v", out)
	}
	out := s.feed([]byte("1}\ndata: {\"b\":2}\n"))
	want := [][]byte{[]byte(`{"a":1}`), []byte(`{"b":2}`)}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("got %v, want %v", toStrings(out), toStrings(want))
	}
}

func TestSSEDataLinesIgnoresNonDataLines(t *testing.T) {
	var s sseDataLines
	out := s.feed([]byte(": comment\nevent: message\ndata: payload\n\n"))
	want := [][]byte{[]byte("payload")}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("got %v, want %v", toStrings(out), toStrings(want))
	}
}

func toStrings(bs [][]byte) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = string(b)
	}
	return out
}

func newTestHandlerForDrain(idleMS int) *Handler {
	h := &Handler{}
	h.cfg.Store(&config.Config{UpstreamIdleTimeoutMS: idleMS})
	return h
}

func TestDrainCollectsChunksUntilClose(t *testing.T) {
	h := newTestHandlerForDrain(1000)
	q := queue.New()
	go func() {
		q.Enqueue(&protocol.UpstreamEvent{Kind: protocol.EventChunk, Data: []byte("hello ")})
		q.Enqueue(&protocol.UpstreamEvent{Kind: protocol.EventChunk, Data: []byte("world")})
		q.Enqueue(&protocol.UpstreamEvent{Kind: protocol.EventStreamClose})
	}()

	var buf bytes.Buffer
	err := h.drain(context.Background(), q, func(b []byte) { buf.Write(b) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.String() != "hello world" {
		t.Errorf("got %q", buf.String())
	}
}

func TestDrainSurfacesUpstreamError(t *testing.T) {
	h := newTestHandlerForDrain(1000)
	q := queue.New()
	go q.Enqueue(&protocol.UpstreamEvent{Kind: protocol.EventError, Status: 500, Message: "boom"})

	err := h.drain(context.Background(), q, func([]byte) {})
	if !errors.Is(err, bridgeerr.ErrUpstreamStatus) {
		t.Fatalf("expected upstream status error, got %v", err)
	}
}

func TestDrainIdleTimeout(t *testing.T) {
	h := newTestHandlerForDrain(50)
	q := queue.New()
	// Never enqueue anything; the idle deadline should fire.
	err := h.drain(context.Background(), q, func([]byte) {})
	if !errors.Is(err, bridgeerr.ErrUpstreamTimeout) {
		t.Fatalf("expected idle timeout, got %v", err)
	}
}

func TestDrainCanceled(t *testing.T) {
	h := newTestHandlerForDrain(1000)
	q := queue.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.drain(ctx, q, func([]byte) {})
	if !errors.Is(err, bridgeerr.ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
}

func TestDrainResetsDeadlineOnEveryFrame(t *testing.T) {
	h := newTestHandlerForDrain(120)
	q := queue.New()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			q.Enqueue(&protocol.UpstreamEvent{Kind: protocol.EventChunk, Data: []byte("x")})
			time.Sleep(60 * time.Millisecond)
		}
		q.Enqueue(&protocol.UpstreamEvent{Kind: protocol.EventStreamClose})
	}()

	var buf bytes.Buffer
	err := h.drain(context.Background(), q, func(b []byte) { buf.Write(b) })
	<-done
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.String() != "xxx" {
		t.Errorf("got %q, want xxx", buf.String())
	}
}

package main

import (
	"context"
	"testing"
	"time"
)

func TestStdinScannerNextReturnsCtxCancelled(t *testing.T) {
	s := &stdinScanner{lines: make(chan string), done: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	line, ok := s.next(ctx)
	if ok {
		t.Fatalf("expected ok=false on cancelled context, got line %q", line)
	}
}

func TestStdinScannerNextReturnsLine(t *testing.T) {
	s := &stdinScanner{lines: make(chan string, 1), done: make(chan struct{})}
	s.lines <- "hello"

	line, ok := s.next(context.Background())
	if !ok || line != "hello" {
		t.Fatalf("next() = %q, %v, want %q, true", line, ok, "hello")
	}
}

func TestStdinScannerNextReturnsFalseOnceDoneAndDrained(t *testing.T) {
	s := &stdinScanner{lines: make(chan string), done: make(chan struct{})}
	close(s.done)

	done := make(chan struct{})
	var ok bool
	go func() {
		_, ok = s.next(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("next() did not return after done closed with no pending lines")
	}
	if ok {
		t.Errorf("expected ok=false once stdin is closed and drained")
	}
}

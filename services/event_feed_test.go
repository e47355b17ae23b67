package services

import (
	"testing"
	"time"
)

func TestEventFeedDeregisterAfterShutdown(t *testing.T) {
	InitEventFeed()
	feed := GlobalEventFeed
	feed.Shutdown()

	done := make(chan struct{})
	go func() {
		feed.deregister(&feedClient{send: make(chan []byte, 1)})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("deregister blocked after hub shutdown")
	}
}

func TestEventFeedDeregisterWhileRunning(t *testing.T) {
	InitEventFeed()
	feed := GlobalEventFeed
	defer feed.Shutdown()

	done := make(chan struct{})
	go func() {
		feed.deregister(&feedClient{send: make(chan []byte, 1)})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("deregister blocked while hub running")
	}
}

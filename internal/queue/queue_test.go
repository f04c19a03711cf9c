package queue

import (
	"errors"
	"sync/atomic"
	"testing"
)

func TestEnqueueJobReturnsError(t *testing.T) {
	rqm := NewRequestQueueManager(4, 2)
	defer rqm.Shutdown()

	expected := errors.New("boom")
	errc := make(chan error, 1)
	rqm.EnqueueJob(Job{Fn: func() error { return expected }, Errc: errc})

	if err := <-errc; !errors.Is(err, expected) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestShutdownDrainsQueuedJobs(t *testing.T) {
	rqm := NewNamedQueueManager("test", 16, 1)
	var ran int32
	for i := 0; i < 10; i++ {
		rqm.EnqueueJob(Job{Fn: func() error {
			atomic.AddInt32(&ran, 1)
			return nil
		}})
	}
	rqm.Shutdown()
	rqm.Shutdown()

	if atomic.LoadInt32(&ran) != 10 {
		t.Fatalf("expected 10 jobs to run, got %d", ran)
	}
}

func TestTryEnqueueJobDoesNotBlockWhenFull(t *testing.T) {
	rqm := NewNamedQueueManager("test", 1, 1)
	release := make(chan struct{})
	started := make(chan struct{})
	rqm.EnqueueJob(Job{Fn: func() error {
		close(started)
		<-release
		return nil
	}})
	<-started

	if !rqm.TryEnqueueJob(Job{Fn: func() error { return nil }}) {
		t.Fatal("expected the buffered slot to accept a job")
	}
	if rqm.TryEnqueueJob(Job{Fn: func() error { return nil }}) {
		t.Fatal("expected a full queue to reject the job")
	}
	close(release)
	rqm.Shutdown()
}

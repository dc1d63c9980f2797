package store

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestJobRunnerExecutesRegisteredHandler(t *testing.T) {
	s := NewInMemoryStore()
	runner := NewJobRunner(s, 10*time.Millisecond, 2)

	var executed atomic.Int32
	runner.RegisterHandler("test_kind", func(ctx context.Context, payload string) error {
		if payload != `{"n":1}` {
			t.Errorf("unexpected payload %s", payload)
		}
		executed.Add(1)
		return nil
	})

	id, err := s.EnqueueJob("test_kind", time.Now(), `{"n":1}`, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for executed.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("handler was not executed in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	j, _ := s.GetJob(id)
	if j.Status != JobStatusDone {
		t.Errorf("expected done job, got %s", j.Status)
	}
}

func TestJobRunnerRetriesFailedJob(t *testing.T) {
	s := NewInMemoryStore()
	runner := NewJobRunner(s, 10*time.Millisecond, 1)

	runner.RegisterHandler("flaky", func(ctx context.Context, payload string) error {
		return errors.New("completion service unavailable")
	})

	id, _ := s.EnqueueJob("flaky", time.Now(), "{}", "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		j, _ := s.GetJob(id)
		if j != nil && j.Attempt >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("job was not retried in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	j, _ := s.GetJob(id)
	if j.Attempt < 1 {
		t.Errorf("expected at least one failed attempt, got %d", j.Attempt)
	}
	if j.LastError == "" {
		t.Error("expected last error to be recorded")
	}
	if j.Status == JobStatusDone {
		t.Error("failing job must not be marked done")
	}
}

func TestJobRunnerNoHandlerFailsJob(t *testing.T) {
	s := NewInMemoryStore()
	runner := NewJobRunner(s, 10*time.Millisecond, 1)

	id, _ := s.EnqueueJob("unknown_kind", time.Now(), "{}", "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		j, _ := s.GetJob(id)
		if j != nil && j.Attempt >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("unhandled job was not failed in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

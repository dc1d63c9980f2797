package flow

import (
	"sync"
	"testing"
)

func TestChatLeaseSerializesSameChat(t *testing.T) {
	lease := NewChatLease()

	var inCritical, maxInCritical int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := lease.Acquire("chat-a")
			defer release()

			mu.Lock()
			inCritical++
			if inCritical > maxInCritical {
				maxInCritical = inCritical
			}
			mu.Unlock()

			mu.Lock()
			inCritical--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxInCritical != 1 {
		t.Errorf("expected at most 1 holder at a time, observed %d", maxInCritical)
	}
}

func TestChatLeaseCleansUpEntries(t *testing.T) {
	lease := NewChatLease()
	release := lease.Acquire("chat-a")
	release()

	lease.mu.Lock()
	n := len(lease.entries)
	lease.mu.Unlock()
	if n != 0 {
		t.Errorf("expected entries map to be empty after release, got %d", n)
	}
}

func TestChatLeaseIndependentChats(t *testing.T) {
	lease := NewChatLease()
	releaseA := lease.Acquire("chat-a")
	done := make(chan struct{})
	go func() {
		releaseB := lease.Acquire("chat-b")
		releaseB()
		close(done)
	}()
	<-done // must not deadlock while chat-a is held
	releaseA()
}

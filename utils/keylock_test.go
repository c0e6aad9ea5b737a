package utils

import (
	"sync"
	"testing"
)

func TestKeyLockSerializesSameKey(t *testing.T) {
	locks := NewKeyLock()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("session-1")
			v := counter
			counter = v + 1
			unlock()
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("expected 50 increments, got %d", counter)
	}
	if n := locks.size(); n != 0 {
		t.Fatalf("expected lock table to be empty, got %d entries", n)
	}
}

func TestKeyLockIndependentKeys(t *testing.T) {
	locks := NewKeyLock()

	unlockA := locks.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := locks.Lock("b")
		unlock()
		close(done)
	}()
	<-done
	unlockA()
}

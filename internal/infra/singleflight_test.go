package infra

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGroup_Do(t *testing.T) {
	var g Group[string, int]

	val, err, shared := g.Do("session-1", func() (int, error) {
		return 42, nil
	})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if val != 42 {
		t.Errorf("expected 42, got %d", val)
	}
	if shared {
		t.Error("expected shared=false for single call")
	}
}

func TestGroup_DoError(t *testing.T) {
	var g Group[string, int]
	testErr := errors.New("test error")

	val, err, _ := g.Do("session-1", func() (int, error) {
		return 0, testErr
	})

	if !errors.Is(err, testErr) {
		t.Errorf("expected test error, got %v", err)
	}
	if val != 0 {
		t.Errorf("expected 0, got %d", val)
	}
}

func TestGroup_DoDuplicates(t *testing.T) {
	var g Group[string, int]
	var callCount int32

	var wg sync.WaitGroup
	results := make([]int, 10)
	shared := make([]bool, 10)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			val, _, sh := g.Do("session-1", func() (int, error) {
				atomic.AddInt32(&callCount, 1)
				time.Sleep(50 * time.Millisecond)
				return 42, nil
			})
			results[idx] = val
			shared[idx] = sh
		}(i)
	}

	wg.Wait()

	// Concurrent hydrations for the same session must coalesce into one load.
	if count := atomic.LoadInt32(&callCount); count != 1 {
		t.Errorf("expected 1 call, got %d", count)
	}

	for i, val := range results {
		if val != 42 {
			t.Errorf("results[%d] = %d, want 42", i, val)
		}
	}

	sharedCount := 0
	for _, sh := range shared {
		if sh {
			sharedCount++
		}
	}
	if sharedCount < 9 {
		t.Errorf("expected at least 9 shared, got %d", sharedCount)
	}
}

func TestGroup_DoDifferentKeys(t *testing.T) {
	var g Group[string, int]
	var callCount int32

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "session-" + string(rune('a'+i))
			g.Do(key, func() (int, error) {
				atomic.AddInt32(&callCount, 1)
				time.Sleep(30 * time.Millisecond)
				return i, nil
			})
		}(i)
	}

	wg.Wait()

	// Distinct sessions must hydrate independently, not share a call.
	if count := atomic.LoadInt32(&callCount); count != 3 {
		t.Errorf("expected 3 calls for different keys, got %d", count)
	}
}

func TestGroup_ConcurrentSafety(t *testing.T) {
	var g Group[int, int]

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := i % 10
			g.Do(key, func() (int, error) {
				time.Sleep(time.Millisecond)
				return key * 2, nil
			})
		}(i)
	}

	wg.Wait()
}

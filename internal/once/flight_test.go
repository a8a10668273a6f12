package once

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestFlightSingleExecution(t *testing.T) {
	var f Flight[int]
	var executions atomic.Int32
	start := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]int, 10)
	firsts := make([]bool, 10)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			<-start
			res, err, first := f.Do(func() (int, error) {
				executions.Add(1)
				time.Sleep(20 * time.Millisecond)
				return 42, nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[idx] = res
			firsts[idx] = first
		}(i)
	}
	close(start)
	wg.Wait()

	if got := executions.Load(); got != 1 {
		t.Fatalf("fn executed %d times, want 1", got)
	}
	firstCount := 0
	for i, r := range results {
		if r != 42 {
			t.Errorf("result[%d] = %d, want 42", i, r)
		}
		if firsts[i] {
			firstCount++
		}
	}
	if firstCount != 1 {
		t.Fatalf("first=true count = %d, want exactly 1", firstCount)
	}
}

func TestFlightResetsAfterCompletion(t *testing.T) {
	var f Flight[int]
	var executions atomic.Int32

	_, _, first1 := f.Do(func() (int, error) {
		executions.Add(1)
		return 1, nil
	})
	_, _, first2 := f.Do(func() (int, error) {
		executions.Add(1)
		return 2, nil
	})

	if !first1 || !first2 {
		t.Fatal("sequential calls should each be first")
	}
	if got := executions.Load(); got != 2 {
		t.Fatalf("fn executed %d times, want 2", got)
	}
}

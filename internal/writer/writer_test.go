package writer

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// TestWriteOrderingGuarantee verifies that records submitted from one
// goroutine are persisted in submission order.
func TestWriteOrderingGuarantee(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	var order []int

	serialize := func(item interface{}) ([]byte, int64) {
		mu.Lock()
		order = append(order, item.(int))
		mu.Unlock()
		return []byte{byte(item.(int))}, 1_700_000_000
	}

	w, err := New(dir, "test", 60, serialize, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	const n = 200
	for i := 0; i < n; i++ {
		w.Write(i, 1_700_000_000)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		got := len(order)
		mu.Unlock()
		if got == n {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for drain, got %d/%d", got, n)
		}
		time.Sleep(time.Millisecond)
	}

	w.Finish()

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("order violated at index %d: got %d want %d", i, v, i)
		}
	}
}

func TestFinishDrainsPendingQueue(t *testing.T) {
	dir := t.TempDir()

	var count int
	var mu sync.Mutex
	serialize := func(item interface{}) ([]byte, int64) {
		mu.Lock()
		count++
		mu.Unlock()
		return []byte("x"), 1_700_000_000
	}

	w, err := New(dir, "test", 60, serialize, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		w.Write(i, 1_700_000_000)
	}
	w.Finish()

	mu.Lock()
	defer mu.Unlock()
	if count != 10 {
		t.Fatalf("expected all 10 records drained before Finish returns, got %d", count)
	}
}

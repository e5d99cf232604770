package queue

import (
	"sync"
	"testing"
	"time"
)

func TestGrowableBuffer_FIFOAcrossGrowth(t *testing.T) {
	buf := New[int](4)

	for i := 0; i < 100; i++ {
		if !buf.Send(i) {
			t.Fatalf("Send(%d) returned false", i)
		}
	}

	stats := buf.Stats()
	if stats.Count != 100 {
		t.Errorf("Count = %d, want 100", stats.Count)
	}
	if stats.ResizeCount < 3 {
		t.Errorf("ResizeCount = %d, expected at least 3 resizes", stats.ResizeCount)
	}
	if stats.HighWater != 100 {
		t.Errorf("HighWater = %d, want 100", stats.HighWater)
	}

	for i := 0; i < 100; i++ {
		val, ok := buf.TryReceive()
		if !ok {
			t.Fatalf("TryReceive() returned false for item %d", i)
		}
		if val != i {
			t.Errorf("received %d, want %d", val, i)
		}
	}
}

func TestGrowableBuffer_WrapAround(t *testing.T) {
	buf := New[int](5)

	buf.Send(1)
	buf.Send(2)
	buf.Send(3)
	buf.TryReceive()
	buf.TryReceive()

	for i := 4; i <= 8; i++ {
		buf.Send(i)
	}

	for _, want := range []int{3, 4, 5, 6, 7, 8} {
		got, ok := buf.TryReceive()
		if !ok {
			t.Fatalf("TryReceive failed, expected %d", want)
		}
		if got != want {
			t.Errorf("got %d, want %d", got, want)
		}
	}
}

func TestGrowableBuffer_BlockingReceive(t *testing.T) {
	buf := New[string](2)
	received := make(chan string, 1)

	go func() {
		if val, ok := buf.Receive(); ok {
			received <- val
		}
	}()

	time.Sleep(10 * time.Millisecond)
	buf.Send("status")

	select {
	case val := <-received:
		if val != "status" {
			t.Errorf("received %q, want %q", val, "status")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for blocked receive")
	}
}

func TestGrowableBuffer_ReceiveWithin(t *testing.T) {
	buf := New[int](2)

	start := time.Now()
	if _, ok := buf.ReceiveWithin(30 * time.Millisecond); ok {
		t.Fatal("ReceiveWithin on empty buffer returned ok")
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("ReceiveWithin returned after %v, want >= 30ms", elapsed)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		buf.Send(7)
	}()
	val, ok := buf.ReceiveWithin(time.Second)
	if !ok || val != 7 {
		t.Errorf("ReceiveWithin() = %d, %v; want 7, true", val, ok)
	}
}

func TestGrowableBuffer_CloseDrainsThenStops(t *testing.T) {
	buf := New[int](10)
	buf.Send(1)
	buf.Send(2)
	buf.Close()

	if buf.Send(3) {
		t.Error("Send should return false after Close")
	}
	if !buf.Closed() {
		t.Error("Closed() = false after Close")
	}

	for _, want := range []int{1, 2} {
		val, ok := buf.Receive()
		if !ok || val != want {
			t.Errorf("Receive() = %d, %v; want %d, true", val, ok, want)
		}
	}
	if _, ok := buf.Receive(); ok {
		t.Error("Receive should return false when closed and empty")
	}
}

func TestGrowableBuffer_CloseUnblocksReceivers(t *testing.T) {
	buf := New[int](10)
	done := make(chan bool, 2)

	go func() {
		_, ok := buf.Receive()
		done <- ok
	}()
	go func() {
		_, ok := buf.ReceiveWithin(time.Hour)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	buf.Close()

	for i := 0; i < 2; i++ {
		select {
		case ok := <-done:
			if ok {
				t.Error("receive should return false when closed and empty")
			}
		case <-time.After(time.Second):
			t.Fatal("Close did not unblock receiver")
		}
	}
}

func TestGrowableBuffer_DrainTo(t *testing.T) {
	buf := New[int](10)
	for i := 0; i < 10; i++ {
		buf.Send(i)
	}

	items := buf.DrainTo(4)
	if len(items) != 4 || items[0] != 0 || items[3] != 3 {
		t.Errorf("DrainTo(4) = %v, want [0 1 2 3]", items)
	}

	items = buf.DrainTo(0)
	if len(items) != 6 {
		t.Errorf("DrainTo(0) returned %d items, want 6", len(items))
	}
	if buf.DrainTo(0) != nil {
		t.Error("DrainTo on empty buffer should return nil")
	}
}

func TestGrowableBuffer_ConcurrentProducers(t *testing.T) {
	buf := New[int](8)
	const producers, perProducer = 4, 250

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				buf.Send(p*perProducer + i)
			}
		}(p)
	}
	wg.Wait()
	buf.Close()

	seen := make(map[int]bool)
	for {
		val, ok := buf.Receive()
		if !ok {
			break
		}
		seen[val] = true
	}
	if len(seen) != producers*perProducer {
		t.Errorf("received %d distinct items, want %d", len(seen), producers*perProducer)
	}
}

func TestGrowableBuffer_BoundedEvictsOldest(t *testing.T) {
	buf := NewBounded[int](2, 5)

	evictions := 0
	for i := 0; i < 12; i++ {
		evicted, ok := buf.Push(i)
		if !ok {
			t.Fatalf("Push(%d) returned ok = false", i)
		}
		if evicted {
			evictions++
		}
	}

	if evictions != 7 {
		t.Errorf("evictions = %d, want 7", evictions)
	}
	stats := buf.Stats()
	if stats.Count != 5 || stats.Dropped != 7 {
		t.Errorf("Count = %d, Dropped = %d, want 5 and 7", stats.Count, stats.Dropped)
	}

	for want := 7; want < 12; want++ {
		got, ok := buf.TryReceive()
		if !ok || got != want {
			t.Fatalf("TryReceive() = %d, %v, want %d, true", got, ok, want)
		}
	}
	if _, ok := buf.TryReceive(); ok {
		t.Error("buffer should be empty")
	}
}

func TestGrowableBuffer_UnboundedNeverDrops(t *testing.T) {
	buf := NewBounded[int](2, 0)
	for i := 0; i < 1000; i++ {
		if evicted, _ := buf.Push(i); evicted {
			t.Fatalf("Push(%d) evicted on an unbounded buffer", i)
		}
	}
	if got := buf.Len(); got != 1000 {
		t.Errorf("Len() = %d, want 1000", got)
	}
}

package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// TestPublishOrder verifies values arrive in publish order.
func TestPublishOrder(t *testing.T) {
	b := New[int](8, nil)
	defer b.Close()

	s, err := b.Subscribe("a")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	for i := range 5 {
		b.Publish(i)
	}
	for i := range 5 {
		if got := <-s.C(); got != i {
			t.Errorf("value %d = %d, want %d", i, got, i)
		}
	}
	if got := b.Published(); got != 5 {
		t.Errorf("published = %d, want 5", got)
	}
}

// TestDropOldest verifies that an overflowing queue keeps the newest values
// and counts what it dropped.
func TestDropOldest(t *testing.T) {
	b := New[int](3, nil)
	defer b.Close()

	s, _ := b.Subscribe("slow")
	for i := range 10 {
		b.Publish(i)
	}

	var got []int
	for range 3 {
		got = append(got, <-s.C())
	}
	want := []int{7, 8, 9}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("queue = %v, want %v", got, want)
		}
	}
	st := s.Stats()
	if st.Dropped != 7 {
		t.Errorf("dropped = %d, want 7", st.Dropped)
	}
	if st.Sent != 10 {
		t.Errorf("sent = %d, want 10", st.Sent)
	}
}

// TestSubscribeErrors verifies duplicate ids and closed buses are rejected.
func TestSubscribeErrors(t *testing.T) {
	b := New[string](1, nil)
	if _, err := b.Subscribe("x"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := b.Subscribe("x"); !errors.Is(err, ErrSubscriberExists) {
		t.Errorf("duplicate: err = %v, want ErrSubscriberExists", err)
	}
	if err := b.Unsubscribe("missing"); !errors.Is(err, ErrSubscriberNotFound) {
		t.Errorf("unsubscribe missing: err = %v, want ErrSubscriberNotFound", err)
	}
	if _, err := b.Stats("missing"); !errors.Is(err, ErrSubscriberNotFound) {
		t.Errorf("stats missing: err = %v, want ErrSubscriberNotFound", err)
	}
	b.Close()
	if _, err := b.Subscribe("y"); !errors.Is(err, ErrBusClosed) {
		t.Errorf("after close: err = %v, want ErrBusClosed", err)
	}
	b.Publish("ignored")
	b.Close()
}

// TestEachRecoversPanics verifies that a panicking handler does not stop
// delivery of later values, and that Each returns once the bus closes.
func TestEachRecoversPanics(t *testing.T) {
	b := New[int](8, nil)
	s, _ := b.Subscribe("handler")

	var (
		mu  sync.Mutex
		got []int
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Each(context.Background(), func(v int) {
			if v == 1 {
				panic("boom")
			}
			mu.Lock()
			got = append(got, v)
			mu.Unlock()
		})
	}()

	b.Publish(0)
	b.Publish(1)
	b.Publish(2)

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("handler received %v, want [0 2]", got)
		case <-time.After(5 * time.Millisecond):
		}
	}

	b.Close()
	<-done

	if p := s.Stats().Panics; p != 1 {
		t.Errorf("panics = %d, want 1", p)
	}
}

// TestEachStopsOnContext verifies that cancelling the context ends delivery.
func TestEachStopsOnContext(t *testing.T) {
	b := New[int](1, nil)
	defer b.Close()
	s, _ := b.Subscribe("ctx")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Each(ctx, func(int) {})
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Each did not return after cancel")
	}
}

// TestUnsubscribeClosesChannel verifies a removed subscriber sees a closed channel.
func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New[int](1, nil)
	defer b.Close()
	s, _ := b.Subscribe("gone")
	if err := b.Unsubscribe("gone"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if _, ok := <-s.C(); ok {
		t.Error("channel still open after unsubscribe")
	}
	b.Publish(1)
}

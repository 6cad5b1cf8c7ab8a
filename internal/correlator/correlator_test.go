package correlator

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const topic = "redes2/2312/1/switch_2"

func notRequest(payload []byte) bool {
	return !bytes.Equal(payload, []byte("TOGGLE")) && !bytes.Equal(payload, []byte("GET"))
}

func TestDeliverBeforeWait(t *testing.T) {
	c := New()

	w, err := c.Register(topic)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// The reply arrives before Wait is called; the slot keeps it.
	if !c.Deliver(topic, []byte("ON")) {
		t.Fatal("Deliver() = false, want true")
	}

	reply, err := w.Wait(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if string(reply.Payload) != "ON" || reply.Topic != topic {
		t.Errorf("Wait() = %+v, want ON on %s", reply, topic)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestDeliverDuringWait(t *testing.T) {
	c := New()

	w, err := c.Register(topic)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.Deliver(topic, []byte("OFF"))
	}()

	reply, err := w.Wait(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if string(reply.Payload) != "OFF" {
		t.Errorf("payload = %q, want OFF", reply.Payload)
	}
}

func TestDeliverWithoutWaiterIsNoop(t *testing.T) {
	c := New()

	other, err := c.Register("redes2/2312/1/sensor_1")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if c.Deliver(topic, []byte("ON")) {
		t.Error("Deliver() to topic without waiter = true")
	}
	if c.Pending() != 1 {
		t.Errorf("Pending() = %d, want the unrelated registration intact", c.Pending())
	}

	// The unrelated waiter still gets its own reply.
	c.Deliver("redes2/2312/1/sensor_1", []byte("21"))
	reply, err := other.Wait(context.Background(), time.Second)
	if err != nil || string(reply.Payload) != "21" {
		t.Errorf("Wait() = %q, %v; want 21", reply.Payload, err)
	}
}

func TestLateReplyDropped(t *testing.T) {
	c := New()

	_, err := c.AwaitReply(context.Background(), topic, 10*time.Millisecond)
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("AwaitReply() error = %v, want ErrTimedOut", err)
	}

	if c.Deliver(topic, []byte("ON")) {
		t.Error("late Deliver() = true, want dropped")
	}

	// The next request is not confused by the late reply.
	w, err := c.Register(topic)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	c.Deliver(topic, []byte("OFF"))
	reply, _ := w.Wait(context.Background(), time.Second)
	if string(reply.Payload) != "OFF" {
		t.Errorf("payload = %q, want OFF", reply.Payload)
	}
}

func TestWaitTimesOut(t *testing.T) {
	c := New()
	timeout := 50 * time.Millisecond

	start := time.Now()
	_, err := c.AwaitReply(context.Background(), topic, timeout)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("AwaitReply() error = %v, want ErrTimedOut", err)
	}
	if elapsed < timeout {
		t.Errorf("returned after %v, before the %v timeout", elapsed, timeout)
	}
	if elapsed > timeout+time.Second {
		t.Errorf("returned after %v, far beyond the %v timeout", elapsed, timeout)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d after timeout, want 0", c.Pending())
	}
}

func TestWaitContextCancelled(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.AwaitReply(ctx, topic, 10*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("AwaitReply() error = %v, want context.Canceled", err)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d after cancel, want 0", c.Pending())
	}
}

func TestAlreadyAwaiting(t *testing.T) {
	c := New()

	first, err := c.Register(topic)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if _, err := c.Register(topic); !errors.Is(err, ErrAlreadyAwaiting) {
		t.Fatalf("second Register() error = %v, want ErrAlreadyAwaiting", err)
	}

	// The first registration is unaffected.
	c.Deliver(topic, []byte("ON"))
	reply, err := first.Wait(context.Background(), time.Second)
	if err != nil || string(reply.Payload) != "ON" {
		t.Errorf("first Wait() = %q, %v; want ON", reply.Payload, err)
	}

	// Once resolved, the topic can be registered again.
	if _, err := c.Register(topic); err != nil {
		t.Errorf("Register() after resolve error = %v", err)
	}
}

func TestCancelReleasesSlot(t *testing.T) {
	c := New()

	w, err := c.Register(topic)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	w.Cancel()

	if c.Pending() != 0 {
		t.Errorf("Pending() = %d after Cancel, want 0", c.Pending())
	}
	if c.Deliver(topic, []byte("ON")) {
		t.Error("Deliver() after Cancel = true")
	}

	// Cancelling a stale waiter does not disarm a newer registration.
	next, err := c.Register(topic)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	w.Cancel()
	if c.Pending() != 1 {
		t.Errorf("stale Cancel disarmed the new registration")
	}
	next.Cancel()
}

func TestFilterKeepsWaiterArmed(t *testing.T) {
	c := New()

	w, err := c.Register(topic, WithFilter(notRequest))
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// Echo of our own request on the shared topic.
	if c.Deliver(topic, []byte("TOGGLE")) {
		t.Error("Deliver(TOGGLE) = true, want rejected by filter")
	}
	if c.Pending() != 1 {
		t.Fatalf("Pending() = %d, want waiter still armed", c.Pending())
	}

	if !c.Deliver(topic, []byte("ON")) {
		t.Error("Deliver(ON) = false, want accepted")
	}
	reply, err := w.Wait(context.Background(), time.Second)
	if err != nil || string(reply.Payload) != "ON" {
		t.Errorf("Wait() = %q, %v; want ON", reply.Payload, err)
	}
}

func TestDeliverCopiesPayload(t *testing.T) {
	c := New()

	w, err := c.Register(topic)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	buf := []byte("ON")
	c.Deliver(topic, buf)
	buf[0], buf[1] = 'X', 'X'

	reply, _ := w.Wait(context.Background(), time.Second)
	if string(reply.Payload) != "ON" {
		t.Errorf("payload = %q, want ON unaffected by buffer reuse", reply.Payload)
	}
}

func TestOnlyFirstReplyDelivered(t *testing.T) {
	c := New()

	w, err := c.Register(topic)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Deliver(topic, []byte("ON")) {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	if accepted.Load() != 1 {
		t.Errorf("accepted = %d, want exactly 1", accepted.Load())
	}
	if _, err := w.Wait(context.Background(), time.Second); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
}

func TestCloseCancelsWaits(t *testing.T) {
	c := New()

	const waiters = 5
	errs := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		w, err := c.Register(topic + string(rune('a'+i)))
		if err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		go func() {
			_, err := w.Wait(context.Background(), 10*time.Second)
			errs <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	c.Close()
	c.Close() // idempotent

	for i := 0; i < waiters; i++ {
		select {
		case err := <-errs:
			if !errors.Is(err, ErrClosed) {
				t.Errorf("Wait() error = %v, want ErrClosed", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Wait() did not return after Close")
		}
	}

	if _, err := c.Register(topic); !errors.Is(err, ErrClosed) {
		t.Errorf("Register() after Close error = %v, want ErrClosed", err)
	}
	if c.Deliver(topic, []byte("ON")) {
		t.Error("Deliver() after Close = true")
	}
}

func TestConcurrentTopicsDoNotCrossTalk(t *testing.T) {
	c := New()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		tp := topic + "_" + string(rune('A'+i%26)) + string(rune('a'+i/26))
		want := []byte(tp)

		w, err := c.Register(tp)
		if err != nil {
			t.Fatalf("Register(%s) error = %v", tp, err)
		}

		wg.Add(2)
		go func() {
			defer wg.Done()
			reply, err := w.Wait(context.Background(), 2*time.Second)
			if err != nil {
				t.Errorf("Wait(%s) error = %v", tp, err)
				return
			}
			if !bytes.Equal(reply.Payload, want) {
				t.Errorf("Wait(%s) = %q, cross-talk", tp, reply.Payload)
			}
		}()
		go func() {
			defer wg.Done()
			c.Deliver(tp, want)
		}()
	}
	wg.Wait()
}

func TestWaiterAge(t *testing.T) {
	c := New()
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := start
	c.now = func() time.Time { return now }

	w, err := c.Register(topic)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	now = start.Add(1500 * time.Millisecond)

	if got := w.Age(); got != 1500*time.Millisecond {
		t.Errorf("Age() = %v, want 1.5s", got)
	}
	if w.Topic() != topic {
		t.Errorf("Topic() = %q", w.Topic())
	}
}

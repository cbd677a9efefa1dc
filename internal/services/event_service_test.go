package services

import (
	"sync"
	"testing"
	"time"
)

func TestEventServiceFanOut(t *testing.T) {
	svc := NewEventService()
	a := svc.Subscribe("s1")
	b := svc.Subscribe("s1")
	other := svc.Subscribe("s2")

	svc.Publish(GameEvent{Type: EventScene, SessionID: "s1", Message: "hello"})

	for _, ch := range []chan GameEvent{a, b} {
		select {
		case ev := <-ch:
			if ev.Message != "hello" || ev.Timestamp.IsZero() {
				t.Fatalf("event %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the event")
		}
	}
	select {
	case ev := <-other:
		t.Fatalf("other session received %+v", ev)
	default:
	}
}

func TestEventServiceDropsWhenBufferFull(t *testing.T) {
	svc := NewEventService()
	ch := svc.Subscribe("s1")
	for i := 0; i < 100; i++ {
		svc.Publish(GameEvent{Type: EventCombat, SessionID: "s1"})
	}
	if len(ch) != cap(ch) {
		t.Fatalf("buffer holds %d of %d", len(ch), cap(ch))
	}
}

func TestEventServiceUnsubscribe(t *testing.T) {
	svc := NewEventService()
	ch := svc.Subscribe("s1")
	svc.Unsubscribe("s1", ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	if n := svc.SubscriberCount("s1"); n != 0 {
		t.Fatalf("subscribers = %d", n)
	}
	svc.Unsubscribe("s1", ch)

	c1, c2 := svc.Subscribe("s2"), svc.Subscribe("s2")
	svc.CloseSession("s2")
	for _, c := range []chan GameEvent{c1, c2} {
		if _, ok := <-c; ok {
			t.Fatal("channel should be closed after CloseSession")
		}
	}
}

func TestLockManagerSerializesSession(t *testing.T) {
	lm := NewLockManager()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = lm.ExecuteWithSessionLock("s1", func() error {
				mu.Lock()
				active++
				if active > maxSeen {
					maxSeen = active
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("%d commands ran concurrently on one session", maxSeen)
	}
}

func TestLockManagerForget(t *testing.T) {
	lm := NewLockManager()
	_ = lm.ExecuteWithSessionLock("s1", func() error { return nil })
	_ = lm.ExecuteWithSessionLock("s2", func() error { return nil })
	if lm.Len() != 2 {
		t.Fatalf("locks = %d", lm.Len())
	}
	lm.Forget("s1")
	if lm.Len() != 1 {
		t.Fatalf("locks after forget = %d", lm.Len())
	}
}

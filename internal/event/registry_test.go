package event

import (
	"sync"
	"testing"
	"time"
)

func TestEventsReadAndClear(t *testing.T) {
	r := NewRegistry()

	r.Post(RxPacket)
	r.Post(TxPacket)

	if got := r.Pending(); got != RxPacket|TxPacket {
		t.Errorf("Pending = %b, want %b", got, RxPacket|TxPacket)
	}
	if got := r.Events(); got != RxPacket|TxPacket {
		t.Errorf("Events = %b, want %b", got, RxPacket|TxPacket)
	}
	if got := r.Events(); got != 0 {
		t.Errorf("second Events = %b, want 0", got)
	}
}

func TestPostAccumulates(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Post(TxFailed)
		}()
	}
	wg.Wait()

	if got := r.Events(); got != TxFailed {
		t.Errorf("Events = %b, want %b", got, TxFailed)
	}
}

func TestHandlerTrigger(t *testing.T) {
	r := NewRegistry()

	var got []Mask
	r.SetHandler(RxPacket|TxFailed, func(m Mask) {
		got = append(got, m)
	})

	r.Post(TxPacket) // not in trigger
	r.Post(RxPacket)
	r.Post(TxFailed)

	if len(got) != 2 || got[0] != RxPacket || got[1] != TxFailed {
		t.Errorf("handler calls = %v", got)
	}

	r.SetHandler(0, nil)
	r.Post(RxPacket)
	if len(got) != 2 {
		t.Error("deregistered handler was called")
	}
}

func TestSubscribe(t *testing.T) {
	r := NewRegistry()

	ch, cancel := r.Subscribe()
	defer cancel()

	r.Post(TxPacket)

	select {
	case m := <-ch:
		if m != TxPacket {
			t.Errorf("received %b, want %b", m, TxPacket)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber not woken")
	}

	cancel()
	r.Post(RxPacket)
	select {
	case m := <-ch:
		t.Errorf("cancelled subscriber received %b", m)
	default:
	}
}

func TestWireValues(t *testing.T) {
	if RxPacket != 1 || TxPacket != 2 || TxFailed != 4 {
		t.Error("event mask values drifted")
	}
}

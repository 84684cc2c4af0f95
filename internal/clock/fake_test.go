package clock_test

import (
	"testing"
	"time"

	"tether/internal/clock"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	fake := clock.NewFake(epoch)
	ch := fake.After(2 * time.Second)

	fake.Advance(time.Second)
	select {
	case <-ch:
		t.Fatal("fired before deadline")
	default:
	}

	fake.Advance(time.Second)
	select {
	case got := <-ch:
		if !got.Equal(epoch.Add(2 * time.Second)) {
			t.Fatalf("unexpected fire time %s", got)
		}
	default:
		t.Fatal("expected timer to fire")
	}
	if fake.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", fake.Pending())
	}
}

func TestFakeTickerReschedulesAndStops(t *testing.T) {
	fake := clock.NewFake(epoch)
	ticker := fake.NewTicker(500 * time.Millisecond)

	fake.Advance(500 * time.Millisecond)
	<-ticker.C
	fake.Advance(500 * time.Millisecond)
	<-ticker.C

	ticker.Stop()
	fake.Advance(time.Second)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker delivered a tick")
	default:
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	fake := clock.NewFake(epoch)
	done := make(chan struct{})
	go func() {
		<-fake.After(time.Minute)
		close(done)
	}()
	fake.WaitForTimers(1)
	fake.Advance(time.Minute)
	<-done
}

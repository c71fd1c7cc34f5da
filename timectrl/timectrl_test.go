package timectrl

import (
	"context"
	"testing"
	"time"
)

var start = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

func TestTimeControllerSetTime(t *testing.T) {
	tc := NewTimeController(start, time.Second, RealTime)

	newNow := start.Add(42 * time.Second)
	tc.SetTime(newNow)

	if got := tc.Now(); !got.Equal(newNow) {
		t.Fatalf("Now() = %v, want %v", got, newNow)
	}
}

func TestTimeControllerAcceleratedRunsAllTicks(t *testing.T) {
	tc := NewTimeController(start, 10*time.Second, Accelerated)

	var seen []time.Time
	tc.AddListener(func(_ context.Context, now time.Time) { seen = append(seen, now) })

	<-tc.Start(context.Background(), time.Minute)

	if len(seen) != 6 {
		t.Fatalf("listener called %d times, want 6", len(seen))
	}
	if !seen[0].Equal(start.Add(10 * time.Second)) {
		t.Fatalf("first tick = %v", seen[0])
	}
	if got := tc.Now(); !got.Equal(start.Add(time.Minute)) {
		t.Fatalf("Now() = %v, want %v", got, start.Add(time.Minute))
	}
}

func TestTimeControllerRealTimeUpdatesNow(t *testing.T) {
	tc := NewTimeController(start, 5*time.Millisecond, RealTime)

	<-tc.Start(context.Background(), 15*time.Millisecond)

	expected := start.Add(15 * time.Millisecond)
	if got := tc.Now(); !got.Equal(expected) {
		t.Fatalf("Now() = %v, want %v", got, expected)
	}
}

func TestTimeControllerStopsOnCancel(t *testing.T) {
	tc := NewTimeController(start, time.Hour, RealTime)
	tc.TimeFactor = 3600 * 1000 // one simulated hour per millisecond

	ctx, cancel := context.WithCancel(context.Background())
	ticks := make(chan struct{}, 100)
	tc.AddListener(func(context.Context, time.Time) { ticks <- struct{}{} })

	done := tc.Start(ctx, 0)
	<-ticks
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("controller did not stop after cancel")
	}
}

func TestTimeControllerTickInterval(t *testing.T) {
	tc := NewTimeController(start, time.Second, RealTime)
	tc.TimeFactor = 10
	if got := tc.TickInterval(); got != 100*time.Millisecond {
		t.Fatalf("TickInterval() = %v, want 100ms", got)
	}
	tc.TimeFactor = 0
	if got := tc.TickInterval(); got != time.Second {
		t.Fatalf("TickInterval() with zero factor = %v, want 1s", got)
	}
}

func TestAfterFiresOnSimulationTime(t *testing.T) {
	tc := NewTimeController(start, time.Second, Accelerated)
	ch := tc.After(3 * time.Second)

	tc.SetTime(start.Add(2 * time.Second))
	select {
	case <-ch:
		t.Fatalf("timer fired early")
	default:
	}

	<-tc.Start(context.Background(), 2*time.Second)
	select {
	case got := <-ch:
		if !got.Equal(start.Add(3 * time.Second)) {
			t.Fatalf("fired at %v, want %v", got, start.Add(3*time.Second))
		}
	default:
		t.Fatalf("timer did not fire")
	}

	if got := <-tc.After(0); !got.Equal(tc.Now()) {
		t.Fatalf("After(0) = %v, want %v", got, tc.Now())
	}
}

func TestParseMode(t *testing.T) {
	if ParseMode("accelerated") != Accelerated || ParseMode("realtime") != RealTime || ParseMode("bogus") != RealTime {
		t.Fatalf("ParseMode mismatch")
	}
	if Accelerated.String() != "accelerated" {
		t.Fatalf("String() = %q", Accelerated.String())
	}
}

package clock

import (
	"testing"
	"time"
)

func TestManualTickerFiresOnAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManual(start)
	tk := c.NewTicker(time.Minute)
	defer tk.Stop()

	c.Advance(30 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("ticker fired early")
	default:
	}

	c.Advance(30 * time.Second)
	select {
	case got := <-tk.C():
		if !got.Equal(start.Add(time.Minute)) {
			t.Errorf("tick time = %v, want %v", got, start.Add(time.Minute))
		}
	default:
		t.Fatal("ticker did not fire")
	}
}

func TestManualTickerStop(t *testing.T) {
	c := NewManual(time.Unix(0, 0))
	tk := c.NewTicker(time.Second)
	if c.Tickers() != 1 {
		t.Fatalf("Tickers() = %d, want 1", c.Tickers())
	}
	tk.Stop()
	if c.Tickers() != 0 {
		t.Fatalf("Tickers() = %d after Stop, want 0", c.Tickers())
	}
	c.Advance(time.Minute)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestManualNow(t *testing.T) {
	start := time.Unix(1000, 0)
	c := NewManual(start)
	c.Advance(2 * time.Hour)
	if !c.Now().Equal(start.Add(2 * time.Hour)) {
		t.Errorf("Now() = %v", c.Now())
	}
}

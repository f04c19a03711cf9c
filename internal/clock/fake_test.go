package clock

import (
	"testing"
	"time"
)

func TestFakeAdvanceFiresTicker(t *testing.T) {
	start := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	c := Fake(start)
	ticker := c.NewTicker(time.Minute)
	defer ticker.Stop()

	c.Advance(30 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("ticker fired early")
	default:
	}

	c.Advance(30 * time.Second)
	select {
	case got := <-ticker.C:
		if !got.Equal(start.Add(time.Minute)) {
			t.Fatalf("unexpected tick time %s", got)
		}
	default:
		t.Fatal("expected a tick after one minute")
	}

	if !c.Now().Equal(start.Add(time.Minute)) {
		t.Fatalf("unexpected now %s", c.Now())
	}
}

func TestFakeDropsTicksWhenConsumerIsBehind(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	ticker := c.NewTicker(time.Second)

	c.Advance(10 * time.Second)
	<-ticker.C
	select {
	case <-ticker.C:
		t.Fatal("expected buffered ticks to be dropped")
	default:
	}
}

func TestFakeStoppedTickerIsRemoved(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	ticker := c.NewTicker(time.Second)
	if c.TickerCount() != 1 {
		t.Fatalf("expected 1 ticker, got %d", c.TickerCount())
	}
	ticker.Stop()
	c.Advance(5 * time.Second)
	if c.TickerCount() != 0 {
		t.Fatalf("expected 0 tickers, got %d", c.TickerCount())
	}
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestFakeNewTickerPanicsOnNonPositive(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	Fake(time.Unix(0, 0)).NewTicker(0)
}

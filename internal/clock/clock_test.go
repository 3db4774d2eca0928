package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake_TickerFiresOnAdvance(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)
	tk := c.NewTicker(5 * time.Second)

	c.Advance(4 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("ticker fired early")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-tk.C():
		assert.Equal(t, start.Add(5*time.Second), got)
	default:
		t.Fatal("ticker did not fire")
	}

	tk.Stop()
	assert.Equal(t, 0, c.TickerCount())
	c.Advance(time.Minute)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestFake_NowAdvances(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)
	c.Advance(90 * time.Minute)
	assert.Equal(t, start.Add(90*time.Minute), c.Now())
}

func TestFake_After(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)

	select {
	case got := <-c.After(0):
		assert.Equal(t, start, got)
	default:
		t.Fatal("zero duration did not fire immediately")
	}

	ch := c.After(10 * time.Second)
	assert.Equal(t, 1, c.Sleepers())

	c.Advance(9 * time.Second)
	select {
	case <-ch:
		t.Fatal("timer fired early")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-ch:
		assert.Equal(t, start.Add(10*time.Second), got)
	default:
		t.Fatal("timer did not fire")
	}
	assert.Equal(t, 0, c.Sleepers())
}

// Package clock abstracts time so schedulers and tests can share one notion of "now".
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time, tickers and one-shot timers.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
	After(d time.Duration) <-chan time.Time
}

// Ticker mirrors time.Ticker.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now().UTC() }

func (Real) NewTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// Fake is a manually advanced clock. Tickers fire when Advance crosses their next deadline.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
	sleeps  []fakeSleep
}

type fakeSleep struct {
	until time.Time
	ch    chan time.Time
}

// NewFake returns a fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{
		clock:  f,
		period: d,
		next:   f.now.Add(d),
		ch:     make(chan time.Time, 1),
	}
	f.tickers = append(f.tickers, t)
	return t
}

// After returns a channel that receives once Advance reaches now+d.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- f.now
		return ch
	}
	f.sleeps = append(f.sleeps, fakeSleep{until: f.now.Add(d), ch: ch})
	return ch
}

// Sleepers reports how many After channels are still waiting.
func (f *Fake) Sleepers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sleeps)
}

// Advance moves time forward by d, firing due tickers and timers. Like time.Ticker, a ticker
// that is not drained drops ticks instead of blocking.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now
	tickers := append([]*fakeTicker(nil), f.tickers...)
	waiting := f.sleeps[:0]
	for _, sl := range f.sleeps {
		if now.Before(sl.until) {
			waiting = append(waiting, sl)
			continue
		}
		sl.ch <- now
	}
	f.sleeps = waiting
	f.mu.Unlock()

	for _, t := range tickers {
		t.fire(now)
	}
}

// TickerCount reports how many tickers are live.
func (f *Fake) TickerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tickers)
}

type fakeTicker struct {
	clock   *Fake
	period  time.Duration
	next    time.Time
	ch      chan time.Time
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	f := t.clock
	f.mu.Lock()
	defer f.mu.Unlock()
	t.stopped = true
	for i, other := range f.tickers {
		if other == t {
			f.tickers = append(f.tickers[:i], f.tickers[i+1:]...)
			break
		}
	}
}

func (t *fakeTicker) fire(now time.Time) {
	t.clock.mu.Lock()
	if t.stopped || now.Before(t.next) {
		t.clock.mu.Unlock()
		return
	}
	for !now.Before(t.next) {
		t.next = t.next.Add(t.period)
	}
	t.clock.mu.Unlock()

	select {
	case t.ch <- now:
	default:
	}
}

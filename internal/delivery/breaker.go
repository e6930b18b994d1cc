package delivery

import (
	"sync"
	"time"
)

type state int

const (
	closed state = iota
	open
	halfOpen
)

// breaker guards one subscription endpoint. After failThreshold consecutive
// retryable failures it opens for openFor, then lets a single probe through.
type breaker struct {
	mu               sync.Mutex
	st               state
	consecutiveFails int
	failThreshold    int
	openFor          time.Duration
	nextTryAt        time.Time
	probeInFlight    bool
	now              func() time.Time
}

func newBreaker(threshold int, openFor time.Duration, now func() time.Time) *breaker {
	return &breaker{failThreshold: threshold, openFor: openFor, now: now}
}

// probeWait is how often a held delivery re-checks a half-open breaker.
const probeWait = 250 * time.Millisecond

// TryAcquire reports whether a request may go out now. When it may not, the
// returned duration is how long until asking again is worthwhile.
func (b *breaker) TryAcquire() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st {
	case open:
		now := b.now()
		if !now.Before(b.nextTryAt) && !b.probeInFlight {
			b.st = halfOpen
			b.probeInFlight = true
			return 0, true
		}
		if wait := b.nextTryAt.Sub(now); wait > 0 {
			return wait, false
		}
		return probeWait, false
	case halfOpen:
		if !b.probeInFlight {
			b.probeInFlight = true
			return 0, true
		}
		return probeWait, false
	default:
		return 0, true
	}
}

func (b *breaker) OnSuccess() {
	b.mu.Lock()
	b.consecutiveFails = 0
	b.st = closed
	b.probeInFlight = false
	b.mu.Unlock()
}

func (b *breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st == halfOpen {
		b.st = open
		b.nextTryAt = b.now().Add(b.openFor)
		b.probeInFlight = false
		return
	}

	b.consecutiveFails++
	if b.consecutiveFails >= b.failThreshold {
		b.st = open
		b.nextTryAt = b.now().Add(b.openFor)
	}
}

func (b *breaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st == open
}

// breakers lazily creates one breaker per subscription id.
// A non-positive threshold disables breaking entirely.
type breakers struct {
	mu        sync.Mutex
	byID      map[int64]*breaker
	threshold int
	openFor   time.Duration
	now       func() time.Time
}

func newBreakers(threshold int, openFor time.Duration, now func() time.Time) *breakers {
	return &breakers{
		byID:      make(map[int64]*breaker),
		threshold: threshold,
		openFor:   openFor,
		now:       now,
	}
}

func (bs *breakers) get(subscriptionID int64) *breaker {
	if bs.threshold <= 0 {
		return nil
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()

	b, ok := bs.byID[subscriptionID]
	if !ok {
		b = newBreaker(bs.threshold, bs.openFor, bs.now)
		bs.byID[subscriptionID] = b
	}
	return b
}

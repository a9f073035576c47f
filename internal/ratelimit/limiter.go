package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/kursadbilgin/reminder-dispatch/internal/domain"
)

const (
	DefaultMaxPerHour = 100
	DefaultMaxPerDay  = 500
)

// Decision is the outcome of a capacity check.
type Decision struct {
	Allowed           bool
	Kind              domain.ErrorKind
	RetryAfterSeconds int
}

// Counters is a snapshot of the live window state.
type Counters struct {
	SentThisHour      int `json:"sentThisHour"`
	SentToday         int `json:"sentToday"`
	RemainingThisHour int `json:"remainingThisHour"`
	RemainingToday    int `json:"remainingToday"`
	MaxPerHour        int `json:"maxPerHour"`
	MaxPerDay         int `json:"maxPerDay"`
}

// LimitError is returned by Check when a batch does not fit.
type LimitError struct {
	Kind       domain.ErrorKind
	RetryAfter time.Duration
	Requested  int
	Remaining  int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: requested %d, remaining %d, retry after %ds",
		e.sentinel().Error(), e.Requested, e.Remaining, int(math.Ceil(e.RetryAfter.Seconds())))
}

func (e *LimitError) Unwrap() error {
	return e.sentinel()
}

func (e *LimitError) sentinel() error {
	if e.Kind == domain.KindDailyLimitExceeded {
		return domain.ErrDailyLimitExceeded
	}
	return domain.ErrHourlyLimitExceeded
}

// Limiter counts successful sends per wall-clock hour and day. Windows reset
// lazily on the first call after a boundary is crossed.
type Limiter struct {
	mu sync.Mutex

	maxPerHour int
	maxPerDay  int
	now        func() time.Time

	sentThisHour   int
	sentToday      int
	lastHourMarker int64
	lastDayMarker  int64
}

func New(maxPerHour, maxPerDay int) *Limiter {
	return newLimiter(maxPerHour, maxPerDay, time.Now)
}

func newLimiter(maxPerHour, maxPerDay int, now func() time.Time) *Limiter {
	if maxPerHour <= 0 {
		maxPerHour = DefaultMaxPerHour
	}
	if maxPerDay <= 0 {
		maxPerDay = DefaultMaxPerDay
	}
	if now == nil {
		now = time.Now
	}

	l := &Limiter{
		maxPerHour: maxPerHour,
		maxPerDay:  maxPerDay,
		now:        now,
	}
	current := now()
	l.lastHourMarker = hourMarker(current)
	l.lastDayMarker = dayMarker(current)

	return l
}

// CheckCapacity reports whether batchSize more sends fit in both windows.
// Nothing is reserved.
func (l *Limiter) CheckCapacity(batchSize int) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.now()
	l.resetLocked(current)

	if l.sentThisHour+batchSize > l.maxPerHour {
		return Decision{
			Kind:              domain.KindHourlyLimitExceeded,
			RetryAfterSeconds: secondsUntil(current, nextHour(current)),
		}
	}
	if l.sentToday+batchSize > l.maxPerDay {
		return Decision{
			Kind:              domain.KindDailyLimitExceeded,
			RetryAfterSeconds: secondsUntil(current, nextDay(current)),
		}
	}

	return Decision{Allowed: true}
}

// Check is CheckCapacity returning a *LimitError on rejection.
func (l *Limiter) Check(batchSize int) error {
	decision := l.CheckCapacity(batchSize)
	if decision.Allowed {
		return nil
	}

	counters := l.Counters()
	remaining := counters.RemainingThisHour
	if decision.Kind == domain.KindDailyLimitExceeded {
		remaining = counters.RemainingToday
	}

	return &LimitError{
		Kind:       decision.Kind,
		RetryAfter: time.Duration(decision.RetryAfterSeconds) * time.Second,
		Requested:  batchSize,
		Remaining:  remaining,
	}
}

// RecordSent counts one confirmed send in both windows.
func (l *Limiter) RecordSent() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.resetLocked(l.now())
	l.sentThisHour++
	l.sentToday++
}

func (l *Limiter) Counters() Counters {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.resetLocked(l.now())

	return Counters{
		SentThisHour:      l.sentThisHour,
		SentToday:         l.sentToday,
		RemainingThisHour: max(l.maxPerHour-l.sentThisHour, 0),
		RemainingToday:    max(l.maxPerDay-l.sentToday, 0),
		MaxPerHour:        l.maxPerHour,
		MaxPerDay:         l.maxPerDay,
	}
}

func (l *Limiter) resetLocked(current time.Time) {
	if marker := hourMarker(current); marker != l.lastHourMarker {
		l.sentThisHour = 0
		l.lastHourMarker = marker
	}
	if marker := dayMarker(current); marker != l.lastDayMarker {
		l.sentToday = 0
		l.lastDayMarker = marker
	}
}

// hourMarker identifies the wall-clock hour including its date, so the same
// hour on a later day is still a new window.
func hourMarker(t time.Time) int64 {
	return dayMarker(t)*100 + int64(t.Hour())
}

func dayMarker(t time.Time) int64 {
	return int64(t.Year())*1000 + int64(t.YearDay())
}

func nextHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, t.Location())
}

func nextDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
}

func secondsUntil(from, to time.Time) int {
	seconds := int(math.Ceil(to.Sub(from).Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

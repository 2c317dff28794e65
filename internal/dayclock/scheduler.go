package dayclock

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler fires an event on a channel at each logical-day boundary.
//
// The consumer owns the business logic: a dedicated goroutine reads the
// channel and calls the engine's recompute directly. Failures in the
// consumer never affect future triggers because the cron entry reschedules
// independently of what the consumer does with the event.
type Scheduler struct {
	cron   *cron.Cron
	events chan time.Time
	logger *log.Logger

	mu        sync.Mutex
	lastFired time.Time
	hour      int
}

// NewScheduler creates a scheduler firing daily at dayStartHour in the
// given location. If logger is nil a default stderr logger is used.
func NewScheduler(dayStartHour int, loc *time.Location, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dayclock] ", log.LstdFlags)
	}
	s := &Scheduler{
		cron:   cron.New(cron.WithLocation(loc), cron.WithSeconds()),
		events: make(chan time.Time, 1),
		logger: logger,
		hour:   dayStartHour,
	}
	return s
}

// Start registers the daily boundary job and starts the cron loop.
func (s *Scheduler) Start() error {
	// second minute hour dom month dow
	spec := spec(s.hour)
	if _, err := s.cron.AddFunc(spec, s.fire); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop stops the cron loop and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Events returns the channel carrying boundary timestamps. The channel is
// buffered with capacity one; if the consumer lags, coincident triggers
// collapse into a single event, which preserves the at-most-once-per-day
// guarantee.
func (s *Scheduler) Events() <-chan time.Time {
	return s.events
}

// fire emits a boundary event unless one already fired this logical day.
func (s *Scheduler) fire() {
	now := time.Now()

	s.mu.Lock()
	if !s.lastFired.IsZero() && !IsNewDay(s.lastFired, now, s.hour, s.hour) {
		s.mu.Unlock()
		return
	}
	s.lastFired = now
	s.mu.Unlock()

	select {
	case s.events <- now:
	default:
		// Consumer still holds the previous event; dropping is safe
		// because each event triggers a full recompute.
	}
}

// spec builds the cron expression for a daily trigger at the given hour.
// Format: second minute hour dom month dow.
func spec(hour int) string {
	if hour < 0 || hour > 23 {
		hour = 0
	}
	return fmt.Sprintf("0 0 %d * * *", hour)
}

package service

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/dan09-stack/qcea-queue/internal/config"
)

// IsAfterHours reports whether now falls outside the configured
// business-hours window. Disabled hours never report after-hours.
// Comparison is at minute granularity: after-hours iff now is before
// the start minute or after the end minute of the same day. Windows
// wrapping past midnight are not supported.
func IsAfterHours(now time.Time, h config.BusinessHours) bool {
	if !h.Enabled {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	start := h.StartHour*60 + h.StartMinute
	end := h.EndHour*60 + h.EndMinute
	return cur < start || cur > end
}

// AfterHoursScheduler fires the bulk cancellation exactly once per
// transition out of business hours. Instead of polling on a fixed
// interval it sleeps until the next boundary where the after-hours
// state can flip. The latch resets when the window reopens, so the
// next closing triggers again.
type AfterHoursScheduler struct {
	svc   *QueueService
	hours config.BusinessHours
	now   func() time.Time

	// onCancel, when set, is invoked after a successful bulk cancel
	// with the number of tickets cancelled (event publishing, SSE).
	onCancel func(cancelled int64)

	mu        sync.Mutex
	triggered bool
}

// NewAfterHoursScheduler constructs a scheduler. now defaults to
// time.Now when nil.
func NewAfterHoursScheduler(svc *QueueService, hours config.BusinessHours, now func() time.Time, onCancel func(int64)) *AfterHoursScheduler {
	if now == nil {
		now = time.Now
	}
	return &AfterHoursScheduler{svc: svc, hours: hours, now: now, onCancel: onCancel}
}

// Check evaluates the policy at the given instant. When the instant is
// after hours and the latch is clear, it cancels all queues, suspends
// faculty and sets the latch. Returns whether a bulk cancel fired.
func (s *AfterHoursScheduler) Check(ctx context.Context, now time.Time) (bool, error) {
	after := IsAfterHours(now, s.hours)
	s.mu.Lock()
	if !after {
		s.triggered = false
		s.mu.Unlock()
		return false, nil
	}
	if s.triggered {
		s.mu.Unlock()
		return false, nil
	}
	s.mu.Unlock()

	cancelled, err := s.svc.CancelAllAndSuspend(ctx)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	s.triggered = true
	s.mu.Unlock()
	log.Printf("afterhours: business hours over, cancelled %d active tickets", cancelled)
	if s.onCancel != nil {
		s.onCancel(cancelled)
	}
	return true, nil
}

// Run evaluates the policy immediately and then sleeps until each next
// boundary, re-evaluating on every wake until ctx is done.
func (s *AfterHoursScheduler) Run(ctx context.Context) {
	for {
		now := s.now()
		if _, err := s.Check(ctx, now); err != nil {
			log.Printf("afterhours: check failed: %v", err)
		}
		timer := time.NewTimer(s.nextWake(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// nextWake returns the duration until the next instant at which the
// after-hours state can change: the start of the window or the first
// minute past its end, today or tomorrow. A two second skew past the
// boundary avoids firing on the wrong side of the minute.
func (s *AfterHoursScheduler) nextWake(now time.Time) time.Duration {
	if !s.hours.Enabled {
		return 24 * time.Hour
	}
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	start := day.Add(time.Duration(s.hours.StartHour)*time.Hour + time.Duration(s.hours.StartMinute)*time.Minute)
	closed := day.Add(time.Duration(s.hours.EndHour)*time.Hour + time.Duration(s.hours.EndMinute+1)*time.Minute)
	candidates := []time.Time{start, closed, start.Add(24 * time.Hour), closed.Add(24 * time.Hour)}
	var earliest time.Time
	for _, c := range candidates {
		if c.After(now) && (earliest.IsZero() || c.Before(earliest)) {
			earliest = c
		}
	}
	if earliest.IsZero() {
		return time.Minute
	}
	return earliest.Sub(now) + 2*time.Second
}

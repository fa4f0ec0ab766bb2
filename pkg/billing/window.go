package billing

import "time"

// Window is the half-open billing period [Start, End) that usage counters
// accumulate against.
type Window struct {
	Start time.Time `json:"period_start"`
	End   time.Time `json:"period_end"`
}

// Contains reports whether t falls inside the window
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Span returns the window's length
func (w Window) Span() time.Duration {
	return w.End.Sub(w.Start)
}

// ComputeWindow derives the current billing window for a user. It is a pure
// function of the user snapshot, the most recent stored usage window (nil if
// none), and now; given the same inputs it always returns the same window.
//
// Priority order:
//  1. A paid or grace period: CurrentPeriodEnd in the future anchors the end;
//     the start rolls forward from the prior usage window when one lines up,
//     otherwise it is one month before the end.
//  2. Mid-trial: the window is exactly [TrialStart, TrialEnd).
//  3. Free tier: a rolling calendar-length month anchored to account creation.
func ComputeWindow(u *User, prior *Window, now time.Time) Window {
	s := u.Subscription

	if s.CurrentPeriodEnd != nil && now.Before(*s.CurrentPeriodEnd) {
		end := *s.CurrentPeriodEnd
		if prior != nil {
			// Roll the stored window forward by its own span until it
			// covers now. This keeps period boundaries stable across
			// renewals instead of re-deriving them from the end.
			w := *prior
			for !w.Contains(now) && w.End.Before(end.Add(time.Nanosecond)) {
				span := w.Span()
				w = Window{Start: w.End, End: w.End.Add(span)}
				if span <= 0 {
					break
				}
			}
			if w.Contains(now) && !w.End.After(end) {
				return w
			}
		}
		return Window{Start: end.AddDate(0, -1, 0), End: end}
	}

	if s.TrialStart != nil && s.TrialEnd != nil &&
		!now.Before(*s.TrialStart) && now.Before(*s.TrialEnd) {
		return Window{Start: *s.TrialStart, End: *s.TrialEnd}
	}

	return monthlyWindowFrom(u.CreatedAt, now)
}

// monthlyWindowFrom returns the month-aligned window anchored at anchor that
// contains now. Used for free-tier metering.
func monthlyWindowFrom(anchor, now time.Time) Window {
	start := anchor
	end := start.AddDate(0, 1, 0)
	for !now.Before(end) {
		start = end
		end = start.AddDate(0, 1, 0)
	}
	if now.Before(start) {
		// now precedes account creation; clamp to the first window
		return Window{Start: anchor, End: anchor.AddDate(0, 1, 0)}
	}
	return Window{Start: start, End: end}
}

package data

import "time"

// TimeProvider is the clock behind every stored timestamp: booking
// creation, completion, job submission, scheduler slots and reaper
// cutoffs all read it, so tests can pin or step time.
type TimeProvider interface {
	Now() time.Time
	// FormatForDB renders a time the way timestamp columns expect it.
	FormatForDB(t time.Time) string
}

// RealTimeProvider reads the system clock.
type RealTimeProvider struct{}

func (r *RealTimeProvider) Now() time.Time {
	return time.Now()
}

func (r *RealTimeProvider) FormatForDB(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// FixedTimeProvider is a settable clock for tests. Completion
// timestamps, FIFO job ordering and retention cutoffs become
// deterministic when repos run on one of these.
type FixedTimeProvider struct {
	fixedTime time.Time
}

// NewFixedTimeProvider pins the clock to t.
func NewFixedTimeProvider(t time.Time) *FixedTimeProvider {
	return &FixedTimeProvider{fixedTime: t}
}

func (f *FixedTimeProvider) Now() time.Time {
	return f.fixedTime
}

func (f *FixedTimeProvider) FormatForDB(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// SetTime moves the clock to an absolute instant.
func (f *FixedTimeProvider) SetTime(t time.Time) {
	f.fixedTime = t
}

// AddTime steps the clock forward by d.
func (f *FixedTimeProvider) AddTime(d time.Duration) {
	f.fixedTime = f.fixedTime.Add(d)
}

package application

import "time"

// Clock interface supaya gampang ditest (deadline dan retry delay)
type Clock interface {
	Now() time.Time
	// AfterFunc runs f in its own goroutine once d has elapsed. stop reports whether it
	// prevented f from running.
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

// SystemClock implementasi default, pakai package time
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) AfterFunc(d time.Duration, f func()) func() bool {
	t := time.AfterFunc(d, f)
	return t.Stop
}

package modem

import "time"

// Clock sets the device wall clock from network time.
type Clock interface {
	Set(t time.Time) error
}

// SystemClock sets the operating system clock. It needs CAP_SYS_TIME on
// Linux and returns ErrClockUnsupported elsewhere.
type SystemClock struct{}

// ClockFunc adapts a function to Clock; TinyGo boards use it to program
// their RTC.
type ClockFunc func(t time.Time) error

func (f ClockFunc) Set(t time.Time) error { return f(t) }

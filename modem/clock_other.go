//go:build !linux

package modem

import "time"

func (SystemClock) Set(time.Time) error {
	return ErrClockUnsupported
}

// Package timeutil provides an injectable clock for components that need
// deterministic time in tests.
package timeutil

import "time"

// Provider supplies the current time.
type Provider interface {
	Now() time.Time
}

// Default uses the system clock.
type Default struct{}

// Now returns the current system time.
func (Default) Now() time.Time { return time.Now() }

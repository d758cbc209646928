package domain

import "time"

// Clock provides the store's notion of current time, so expiration can
// be tested without sleeping.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// MockClock is a controllable Clock for tests.
type MockClock struct {
	current time.Time
}

func NewMockClock(t time.Time) *MockClock {
	return &MockClock{current: t}
}

func (c *MockClock) Now() time.Time { return c.current }

func (c *MockClock) Advance(d time.Duration) { c.current = c.current.Add(d) }

func (c *MockClock) Set(t time.Time) { c.current = t }
